package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
)

// MemoryAccountRepository is an in-memory AccountRepository used for unit testing
// services and handlers without a running database.
type MemoryAccountRepository struct {
	mu         sync.Mutex
	accounts   map[string]models.Account
	scores     map[string]models.ScoreRecord
	err        error
	scoreErr   map[string]error
	scoreSaves int
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: make(map[string]models.Account),
		scores:   make(map[string]models.ScoreRecord),
		scoreErr: make(map[string]error),
	}
}

// WithError makes every subsequent call fail with err.
func (m *MemoryAccountRepository) WithError(err error) *MemoryAccountRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// FailScoreWrites makes SaveScore fail for one account name.
func (m *MemoryAccountRepository) FailScoreWrites(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreErr[models.NameKey(name)] = err
}

// ScoreSaves returns how many successful SaveScore calls were made.
func (m *MemoryAccountRepository) ScoreSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreSaves
}

func (m *MemoryAccountRepository) Create(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := account.Key()
	if _, exists := m.accounts[key]; exists {
		return ErrAccountConflict
	}
	if account.LinkedAt.IsZero() {
		account.LinkedAt = time.Now().UTC()
	}
	m.accounts[key] = cloneAccount(*account)
	m.scores[key] = models.NewUnknownScore(account.Name)
	return nil
}

func (m *MemoryAccountRepository) GetByName(_ context.Context, name string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[models.NameKey(name)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a = cloneAccount(a)
	return &a, nil
}

func (m *MemoryAccountRepository) ListByOwner(_ context.Context, ownerID models.OwnerID) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	accounts := make([]models.Account, 0)
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			accounts = append(accounts, cloneAccount(a))
		}
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (m *MemoryAccountRepository) ListAll(_ context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	accounts := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, cloneAccount(a))
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (m *MemoryAccountRepository) Update(_ context.Context, oldName string, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	oldKey, newKey := models.NameKey(oldName), account.Key()
	if _, ok := m.accounts[oldKey]; !ok {
		return ErrAccountNotFound
	}
	if oldKey != newKey {
		if _, taken := m.accounts[newKey]; taken {
			return ErrAccountConflict
		}
	}
	score := m.scores[oldKey]
	score.AccountName = account.Name
	delete(m.accounts, oldKey)
	delete(m.scores, oldKey)
	m.accounts[newKey] = cloneAccount(*account)
	m.scores[newKey] = score
	return nil
}

func (m *MemoryAccountRepository) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := models.NameKey(name)
	if _, ok := m.accounts[key]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, key)
	delete(m.scores, key)
	return nil
}

func (m *MemoryAccountRepository) GetScore(_ context.Context, name string) (*models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.scores[models.NameKey(name)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &rec, nil
}

func (m *MemoryAccountRepository) SaveScore(_ context.Context, record models.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := models.NameKey(record.AccountName)
	if err := m.scoreErr[key]; err != nil {
		return err
	}
	if _, ok := m.scores[key]; !ok {
		return ErrAccountNotFound
	}
	m.scores[key] = record
	m.scoreSaves++
	return nil
}

func (m *MemoryAccountRepository) ListScores(_ context.Context) ([]models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	records := make([]models.ScoreRecord, 0, len(m.scores))
	for _, rec := range m.scores {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return models.NameKey(records[i].AccountName) < models.NameKey(records[j].AccountName)
	})
	return records, nil
}

func cloneAccount(a models.Account) models.Account {
	if a.Emoji != nil {
		e := *a.Emoji
		a.Emoji = &e
	}
	return a
}

func sortAccounts(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].LinkedAt.Equal(accounts[j].LinkedAt) {
			return accounts[i].LinkedAt.Before(accounts[j].LinkedAt)
		}
		return accounts[i].Key() < accounts[j].Key()
	})
}

// MemoryOverrideRepository is the in-memory OverrideRepository.
type MemoryOverrideRepository struct {
	mu        sync.Mutex
	overrides map[models.OwnerID]models.Override
	err       error
}

func NewMemoryOverrideRepository() *MemoryOverrideRepository {
	return &MemoryOverrideRepository{overrides: make(map[models.OwnerID]models.Override)}
}

func (m *MemoryOverrideRepository) WithError(err error) *MemoryOverrideRepository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MemoryOverrideRepository) Upsert(_ context.Context, override *models.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if override.SetAt.IsZero() {
		override.SetAt = time.Now().UTC()
	}
	m.overrides[override.OwnerID] = *override
	return nil
}

func (m *MemoryOverrideRepository) Get(_ context.Context, ownerID models.OwnerID) (*models.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.overrides[ownerID]
	if !ok {
		return nil, ErrOverrideNotFound
	}
	return &o, nil
}

func (m *MemoryOverrideRepository) Delete(_ context.Context, ownerID models.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.overrides, ownerID)
	return nil
}

func (m *MemoryOverrideRepository) List(_ context.Context) ([]models.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	overrides := make([]models.Override, 0, len(m.overrides))
	for _, o := range m.overrides {
		overrides = append(overrides, o)
	}
	sort.Slice(overrides, func(i, j int) bool { return overrides[i].OwnerID < overrides[j].OwnerID })
	return overrides, nil
}

// MemorySettingsRepository is the in-memory SettingsRepository.
type MemorySettingsRepository struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{values: make(map[string]string)}
}

func (m *MemorySettingsRepository) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrSettingNotFound
	}
	return v, nil
}

func (m *MemorySettingsRepository) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemorySettingsRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var (
	_ AccountRepository  = (*MemoryAccountRepository)(nil)
	_ OverrideRepository = (*MemoryOverrideRepository)(nil)
	_ SettingsRepository = (*MemorySettingsRepository)(nil)
)
