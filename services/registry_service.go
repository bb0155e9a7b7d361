package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
)

var (
	accountNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,12}$`)
	customEmojiPattern = regexp.MustCompile(`^<a?:\w+:\d+>$`)
)

// emojiClearValue in an edit request removes the emoji.
const emojiClearValue = "none"

type AccountRegistry interface {
	Link(ctx context.Context, input LinkAccountInput) (*models.Account, error)
	Unlink(ctx context.Context, actor models.Actor, name string) error
	Update(ctx context.Context, name string) (*models.ScoreRecord, error)
	Edit(ctx context.Context, actor models.Actor, name string, input EditAccountInput) (*models.Account, error)
	List(ctx context.Context, ownerID models.OwnerID) ([]models.Account, error)
	Whois(ctx context.Context, name string) (models.OwnerID, error)
}

type LinkAccountInput struct {
	OwnerID models.OwnerID     `json:"-"`
	Name    string             `json:"name"`
	Type    models.AccountType `json:"account_type"`
	Emoji   *string            `json:"emoji,omitempty"`
}

// EditAccountInput: nil fields are left unchanged.
type EditAccountInput struct {
	Name  *string             `json:"name,omitempty"`
	Type  *models.AccountType `json:"account_type,omitempty"`
	Emoji *string             `json:"emoji,omitempty"`
}

type accountRegistry struct {
	accounts repositories.AccountRepository
	syncer   *ScoreSyncer
	locks    *AccountLocks
	reranker Reranker
	logger   *slog.Logger
	now      func() time.Time
}

func NewAccountRegistry(
	accounts repositories.AccountRepository,
	syncer *ScoreSyncer,
	locks *AccountLocks,
	reranker Reranker,
	logger *slog.Logger,
) AccountRegistry {
	return &accountRegistry{
		accounts: accounts,
		syncer:   syncer,
		locks:    locks,
		reranker: reranker,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateAccountName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !accountNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: account name must be 1-12 letters, digits, spaces, '-' or '_'", ErrInvalidAccount)
	}
	return name, nil
}

// validEmoji accepts a custom emoji token or anything containing a non Latin-1 rune.
func validEmoji(emoji string) bool {
	if customEmojiPattern.MatchString(emoji) {
		return true
	}
	for _, r := range emoji {
		if r > 255 {
			return true
		}
	}
	return false
}

func normalizeEmoji(emoji *string) (*string, error) {
	if emoji == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*emoji)
	if v == "" {
		return nil, nil
	}
	if !validEmoji(v) {
		return nil, fmt.Errorf("%w: emoji must be a unicode emoji or a custom emoji token", ErrInvalidAccount)
	}
	return &v, nil
}

func (r *accountRegistry) Link(ctx context.Context, input LinkAccountInput) (*models.Account, error) {
	name, err := validateAccountName(input.Name)
	if err != nil {
		return nil, err
	}
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalidAccount, input.Type)
	}
	emoji, err := normalizeEmoji(input.Emoji)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Name:     name,
		OwnerID:  input.OwnerID,
		Type:     input.Type,
		Emoji:    emoji,
		LinkedAt: r.now(),
	}

	unlock := r.locks.Lock(name)
	err = r.accounts.Create(ctx, account)
	unlock()
	if err != nil {
		if errors.Is(err, repositories.ErrAccountConflict) {
			return nil, ErrDuplicateLink
		}
		return nil, persistenceError("link account", err)
	}

	r.logger.Info("account linked", "account", account.Name, "owner_id", account.OwnerID, "account_type", account.Type)
	return account, nil
}

func (r *accountRegistry) Unlink(ctx context.Context, actor models.Actor, name string) error {
	unlock := r.locks.Lock(name)
	account, err := r.accounts.GetByName(ctx, name)
	if err != nil {
		unlock()
		return r.mapLookupError(err)
	}
	if !actor.CanManage(account.OwnerID) {
		unlock()
		return ErrForbidden
	}
	err = r.accounts.Delete(ctx, account.Name)
	unlock()
	if err != nil {
		return r.mapLookupError(err)
	}

	r.logger.Info("account unlinked", "account", account.Name, "owner_id", account.OwnerID, "actor_id", actor.ID)
	r.rerank(ctx)
	return nil
}

// Update fetches the account's score now. The stored record is written even
// when the fetch fails (as Stale), and the fetch error is returned.
func (r *accountRegistry) Update(ctx context.Context, name string) (*models.ScoreRecord, error) {
	result, err := r.syncer.Sync(ctx, name)
	if err != nil {
		return nil, err
	}
	r.rerank(ctx)
	if result.FetchErr != nil {
		return &result.Record, result.FetchErr
	}
	return &result.Record, nil
}

func (r *accountRegistry) Edit(ctx context.Context, actor models.Actor, name string, input EditAccountInput) (*models.Account, error) {
	var newName string
	if input.Name != nil {
		validated, err := validateAccountName(*input.Name)
		if err != nil {
			return nil, err
		}
		newName = validated
	}
	if input.Type != nil && !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalidAccount, *input.Type)
	}
	var (
		emoji      *string
		clearEmoji bool
	)
	if input.Emoji != nil {
		if strings.EqualFold(strings.TrimSpace(*input.Emoji), emojiClearValue) {
			clearEmoji = true
		} else {
			normalized, err := normalizeEmoji(input.Emoji)
			if err != nil {
				return nil, err
			}
			emoji = normalized
		}
	}

	lockNames := []string{name}
	if newName != "" {
		lockNames = append(lockNames, newName)
	}
	unlock := r.locks.LockMany(lockNames...)
	defer unlock()

	account, err := r.accounts.GetByName(ctx, name)
	if err != nil {
		return nil, r.mapLookupError(err)
	}
	if !actor.CanManage(account.OwnerID) {
		return nil, ErrForbidden
	}

	oldName := account.Name
	if newName != "" {
		account.Name = newName
	}
	if input.Type != nil {
		account.Type = *input.Type
	}
	switch {
	case clearEmoji:
		account.Emoji = nil
	case emoji != nil:
		account.Emoji = emoji
	}

	if err := r.accounts.Update(ctx, oldName, account); err != nil {
		if errors.Is(err, repositories.ErrAccountConflict) {
			return nil, ErrDuplicateLink
		}
		return nil, r.mapLookupError(err)
	}

	r.logger.Info("account edited", "account", oldName, "new_name", account.Name, "account_type", account.Type, "emoji", derefString(account.Emoji))
	r.rerank(ctx)
	return account, nil
}

func (r *accountRegistry) List(ctx context.Context, ownerID models.OwnerID) ([]models.Account, error) {
	accounts, err := r.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, persistenceError("list accounts", err)
	}
	return accounts, nil
}

func (r *accountRegistry) Whois(ctx context.Context, name string) (models.OwnerID, error) {
	account, err := r.accounts.GetByName(ctx, name)
	if err != nil {
		return 0, r.mapLookupError(err)
	}
	return account.OwnerID, nil
}

func (r *accountRegistry) mapLookupError(err error) error {
	if errors.Is(err, repositories.ErrAccountNotFound) {
		return ErrNotFound
	}
	return persistenceError("account lookup", err)
}

// rerank публикует новый снимок; ошибка не отменяет уже выполненную операцию.
func (r *accountRegistry) rerank(ctx context.Context) {
	if r.reranker == nil {
		return
	}
	if _, err := r.reranker.Refresh(ctx); err != nil {
		r.logger.Warn("rerank after registry change failed", "error", err)
	}
}
