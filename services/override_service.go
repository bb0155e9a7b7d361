package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
)

type OverrideService interface {
	SetOverride(ctx context.Context, actor models.Actor, ownerID models.OwnerID, total int) (*models.Override, error)
	ClearOverride(ctx context.Context, actor models.Actor, ownerID models.OwnerID) error
	GetOverride(ctx context.Context, ownerID models.OwnerID) (*models.Override, error)
}

type overrideService struct {
	overrides repositories.OverrideRepository
	reranker  Reranker
	logger    *slog.Logger
	now       func() time.Time
}

func NewOverrideService(overrides repositories.OverrideRepository, reranker Reranker, logger *slog.Logger) OverrideService {
	return &overrideService{
		overrides: overrides,
		reranker:  reranker,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetOverride replaces any previous override of the owner. Totals outside
// [0, 500) are rejected and nothing is stored.
func (s *overrideService) SetOverride(ctx context.Context, actor models.Actor, ownerID models.OwnerID, total int) (*models.Override, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	if total < 0 || total >= models.OverrideThreshold {
		return nil, ErrInvalidOverride
	}

	override := &models.Override{
		OwnerID: ownerID,
		Total:   total,
		SetBy:   actor.ID,
		SetAt:   s.now(),
	}
	if err := s.overrides.Upsert(ctx, override); err != nil {
		return nil, persistenceError("store override", err)
	}

	s.logger.Info("override set", "owner_id", ownerID, "total", total, "set_by", actor.ID)
	s.rerank(ctx)
	return override, nil
}

// ClearOverride is a no-op when no override exists.
func (s *overrideService) ClearOverride(ctx context.Context, actor models.Actor, ownerID models.OwnerID) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	if err := s.overrides.Delete(ctx, ownerID); err != nil {
		return persistenceError("clear override", err)
	}
	s.logger.Info("override cleared", "owner_id", ownerID, "cleared_by", actor.ID)
	s.rerank(ctx)
	return nil
}

func (s *overrideService) GetOverride(ctx context.Context, ownerID models.OwnerID) (*models.Override, error) {
	override, err := s.overrides.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repositories.ErrOverrideNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("load override", err)
	}
	return override, nil
}

func (s *overrideService) rerank(ctx context.Context) {
	if s.reranker == nil {
		return
	}
	if _, err := s.reranker.Refresh(ctx); err != nil {
		s.logger.Warn("rerank after override change failed", "error", err)
	}
}
