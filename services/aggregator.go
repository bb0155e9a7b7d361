package services

import (
	"context"
	"errors"
	"sort"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
)

// Aggregator derives one representative score per owner. It never writes.
type Aggregator struct {
	accounts  repositories.AccountRepository
	overrides repositories.OverrideRepository
}

func NewAggregator(accounts repositories.AccountRepository, overrides repositories.OverrideRepository) *Aggregator {
	return &Aggregator{accounts: accounts, overrides: overrides}
}

// AggregateOwner returns ErrNotFound when the owner has nothing rankable.
func (a *Aggregator) AggregateOwner(ctx context.Context, ownerID models.OwnerID) (*models.RepresentativeScore, error) {
	accounts, err := a.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, persistenceError("list owner accounts", err)
	}

	scores := make(map[string]models.ScoreRecord, len(accounts))
	for _, acc := range accounts {
		rec, err := a.accounts.GetScore(ctx, acc.Name)
		if err != nil {
			if errors.Is(err, repositories.ErrAccountNotFound) {
				continue // отвязан между запросами
			}
			return nil, persistenceError("load score", err)
		}
		scores[acc.Key()] = *rec
	}

	override, err := a.overrides.Get(ctx, ownerID)
	if err != nil && !errors.Is(err, repositories.ErrOverrideNotFound) {
		return nil, persistenceError("load override", err)
	}

	rep, ok := aggregate(ownerID, accounts, scores, override)
	if !ok {
		return nil, ErrNotFound
	}
	return &rep, nil
}

// AggregateAll reads everything once and returns representatives in owner id order.
func (a *Aggregator) AggregateAll(ctx context.Context) ([]models.RepresentativeScore, error) {
	accounts, err := a.accounts.ListAll(ctx)
	if err != nil {
		return nil, persistenceError("list accounts", err)
	}
	records, err := a.accounts.ListScores(ctx)
	if err != nil {
		return nil, persistenceError("list scores", err)
	}
	overrides, err := a.overrides.List(ctx)
	if err != nil {
		return nil, persistenceError("list overrides", err)
	}

	scores := make(map[string]models.ScoreRecord, len(records))
	for _, rec := range records {
		scores[models.NameKey(rec.AccountName)] = rec
	}

	byOwner := make(map[models.OwnerID][]models.Account)
	for _, acc := range accounts {
		byOwner[acc.OwnerID] = append(byOwner[acc.OwnerID], acc)
	}
	overrideByOwner := make(map[models.OwnerID]*models.Override, len(overrides))
	for i := range overrides {
		overrideByOwner[overrides[i].OwnerID] = &overrides[i]
		if _, ok := byOwner[overrides[i].OwnerID]; !ok {
			byOwner[overrides[i].OwnerID] = nil
		}
	}

	owners := make([]models.OwnerID, 0, len(byOwner))
	for id := range byOwner {
		owners = append(owners, id)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	result := make([]models.RepresentativeScore, 0, len(owners))
	for _, id := range owners {
		if rep, ok := aggregate(id, byOwner[id], scores, overrideByOwner[id]); ok {
			result = append(result, rep)
		}
	}
	return result, nil
}

// aggregate picks the owner's highest known account total. An override is
// honored only while every account is under the threshold or still Unknown,
// and it wins only when strictly above the best account total.
// Accounts with no known total and no override leave the owner unranked.
func aggregate(ownerID models.OwnerID, accounts []models.Account, scores map[string]models.ScoreRecord, override *models.Override) (models.RepresentativeScore, bool) {
	ordered := make([]models.Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].LinkedAt.Equal(ordered[j].LinkedAt) {
			return ordered[i].LinkedAt.Before(ordered[j].LinkedAt)
		}
		return ordered[i].Key() < ordered[j].Key()
	})

	var (
		best       *models.Account
		bestRecord models.ScoreRecord
	)
	overrideAllowed := override != nil
	for i := range ordered {
		rec, ok := scores[ordered[i].Key()]
		if !ok || !rec.Known() {
			continue
		}
		if rec.Total >= models.OverrideThreshold {
			overrideAllowed = false
		}
		// строго больше: при равенстве остаётся аккаунт, привязанный раньше
		if best == nil || rec.Total > bestRecord.Total {
			best = &ordered[i]
			bestRecord = rec
		}
	}

	if overrideAllowed && (best == nil || override.Total > bestRecord.Total) {
		rep := models.RepresentativeScore{
			OwnerID:  ownerID,
			Total:    override.Total,
			Source:   models.OverrideSource(),
			LinkedAt: override.SetAt,
		}
		if len(ordered) > 0 {
			first := ordered[0]
			rep.LinkedAt = first.LinkedAt
			rep.AccountName = first.Name
			rep.AccountType = first.Type
			rep.Emoji = first.Emoji
		}
		return rep, true
	}

	if best == nil {
		return models.RepresentativeScore{}, false
	}
	return models.RepresentativeScore{
		OwnerID:        ownerID,
		Total:          bestRecord.Total,
		Source:         models.AccountSource(best.Name),
		LinkedAt:       best.LinkedAt,
		BelowThreshold: bestRecord.BelowThreshold,
		AccountName:    best.Name,
		AccountType:    best.Type,
		Emoji:          best.Emoji,
	}, true
}
