package models

import "time"

type SourceKind string

const (
	SourceAccount  SourceKind = "account"
	SourceOverride SourceKind = "override"
)

// ScoreSource tells where a representative total came from.
type ScoreSource struct {
	Kind        SourceKind `json:"kind"`
	AccountName string     `json:"account_name,omitempty"`
}

func AccountSource(name string) ScoreSource {
	return ScoreSource{Kind: SourceAccount, AccountName: name}
}

func OverrideSource() ScoreSource {
	return ScoreSource{Kind: SourceOverride}
}

// RepresentativeScore is derived per owner on every rebuild and never persisted.
type RepresentativeScore struct {
	OwnerID        OwnerID     `json:"owner_id,string"`
	Total          int         `json:"total"`
	Source         ScoreSource `json:"source"`
	LinkedAt       time.Time   `json:"linked_at"`
	BelowThreshold bool        `json:"below_threshold"`

	// Representative account display data, empty for overrides without accounts.
	AccountName string      `json:"account_name,omitempty"`
	AccountType AccountType `json:"account_type,omitempty"`
	Emoji       *string     `json:"emoji,omitempty"`
}

type Medal string

const (
	MedalGold   Medal = "gold"
	MedalSilver Medal = "silver"
	MedalBronze Medal = "bronze"
	MedalNone   Medal = "none"
)

// LeaderboardEntry is one published row of the ranking.
type LeaderboardEntry struct {
	Rank           int         `json:"rank"`
	OwnerID        OwnerID     `json:"owner_id,string"`
	Total          int         `json:"total"`
	Source         ScoreSource `json:"source"`
	Medal          Medal       `json:"medal"`
	BelowThreshold bool        `json:"below_threshold"`
	AccountName    string      `json:"account_name,omitempty"`
	AccountType    AccountType `json:"account_type,omitempty"`
	Emoji          *string     `json:"emoji,omitempty"`
}

// Leaderboard is an immutable, versioned snapshot. Readers must not mutate it.
type Leaderboard struct {
	Version     uint64             `json:"version"`
	GeneratedAt time.Time          `json:"generated_at"`
	Entries     []LeaderboardEntry `json:"entries"`
	TotalRanked int                `json:"total_ranked"`
}
