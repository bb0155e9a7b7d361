package models

import "time"

type ScoreStatus string

const (
	// ScoreFresh - последний запрос к hiscores прошёл успешно.
	ScoreFresh ScoreStatus = "fresh"
	// ScoreStale - последний запрос упал, сохранено предыдущее значение.
	ScoreStale ScoreStatus = "stale"
	// ScoreUnknown - значение ни разу не было получено.
	ScoreUnknown ScoreStatus = "unknown"
)

// ScoreRecord is the latest known collection log total for one account.
type ScoreRecord struct {
	AccountName    string      `json:"account_name" db:"username"`
	Total          int         `json:"total" db:"total"`
	HiscoreRank    int         `json:"hiscore_rank" db:"hiscore_rank"`
	BelowThreshold bool        `json:"below_threshold" db:"below_threshold"`
	ObservedAt     *time.Time  `json:"observed_at,omitempty" db:"observed_at"`
	Status         ScoreStatus `json:"status" db:"status"`
}

// Known reports whether the record carries a total that may be ranked.
func (r ScoreRecord) Known() bool {
	return r.Status == ScoreFresh || r.Status == ScoreStale
}

// NewUnknownScore is the record created together with a fresh link.
func NewUnknownScore(accountName string) ScoreRecord {
	return ScoreRecord{
		AccountName: accountName,
		HiscoreRank: -1,
		Status:      ScoreUnknown,
	}
}

// MarkFailed downgrades the record after a failed fetch, keeping the prior total.
func (r ScoreRecord) MarkFailed() ScoreRecord {
	if r.Status == ScoreFresh {
		r.Status = ScoreStale
	}
	return r
}
