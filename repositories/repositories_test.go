package repositories_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/db"
	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store struct {
	accounts  repositories.AccountRepository
	overrides repositories.OverrideRepository
	settings  repositories.SettingsRepository
}

// backends возвращает in-memory реализацию и, если задан TEST_DATABASE_URL, Postgres.
func backends(t *testing.T) map[string]func(t *testing.T) store {
	t.Helper()
	out := map[string]func(t *testing.T) store{
		"memory": func(*testing.T) store {
			return store{
				accounts:  repositories.NewMemoryAccountRepository(),
				overrides: repositories.NewMemoryOverrideRepository(),
				settings:  repositories.NewMemorySettingsRepository(),
			}
		},
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	out["postgres"] = func(t *testing.T) store {
		conn, err := db.Connect(dsn, 5*time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, db.Migrate(context.Background(), conn))
		truncate(t, conn)
		return store{
			accounts:  repositories.NewPostgresAccountRepository(conn),
			overrides: repositories.NewPostgresOverrideRepository(conn),
			settings:  repositories.NewPostgresSettingsRepository(conn),
		}
	}
	return out
}

func truncate(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`TRUNCATE score_records, linked_accounts, score_overrides, bot_settings CASCADE`)
	require.NoError(t, err)
}

func account(name string, owner models.OwnerID, linkedAt time.Time) *models.Account {
	return &models.Account{Name: name, OwnerID: owner, Type: models.AccountTypeMain, LinkedAt: linkedAt}
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create is case insensitive and seeds unknown score", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.accounts.Create(ctx, account("Zezima", 1, base)))
				assert.ErrorIs(t, s.accounts.Create(ctx, account("ZEZIMA", 2, base)), repositories.ErrAccountConflict)

				got, err := s.accounts.GetByName(ctx, "zezima")
				require.NoError(t, err)
				assert.Equal(t, "Zezima", got.Name)
				assert.Equal(t, models.OwnerID(1), got.OwnerID)
				assert.True(t, base.Equal(got.LinkedAt))

				score, err := s.accounts.GetScore(ctx, "Zezima")
				require.NoError(t, err)
				assert.Equal(t, models.ScoreUnknown, score.Status)
				assert.Equal(t, "Zezima", score.AccountName)
			})

			t.Run("lists are ordered by linked_at", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.accounts.Create(ctx, account("Second", 1, base.Add(time.Minute))))
				require.NoError(t, s.accounts.Create(ctx, account("First", 1, base)))
				require.NoError(t, s.accounts.Create(ctx, account("Other", 2, base.Add(time.Hour))))

				owned, err := s.accounts.ListByOwner(ctx, 1)
				require.NoError(t, err)
				require.Len(t, owned, 2)
				assert.Equal(t, "First", owned[0].Name)
				assert.Equal(t, "Second", owned[1].Name)

				all, err := s.accounts.ListAll(ctx)
				require.NoError(t, err)
				assert.Len(t, all, 3)

				none, err := s.accounts.ListByOwner(ctx, 99)
				require.NoError(t, err)
				assert.Empty(t, none)
			})

			t.Run("rename carries the score", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.accounts.Create(ctx, account("Old Name", 1, base)))
				require.NoError(t, s.accounts.Create(ctx, account("Taken", 2, base)))
				observed := base.Add(time.Hour)
				require.NoError(t, s.accounts.SaveScore(ctx, models.ScoreRecord{
					AccountName: "Old Name", Total: 900, HiscoreRank: 10, ObservedAt: &observed, Status: models.ScoreFresh,
				}))

				renamed := account("New Name", 1, base)
				require.NoError(t, s.accounts.Update(ctx, "old name", renamed))

				_, err := s.accounts.GetByName(ctx, "Old Name")
				assert.ErrorIs(t, err, repositories.ErrAccountNotFound)
				score, err := s.accounts.GetScore(ctx, "New Name")
				require.NoError(t, err)
				assert.Equal(t, 900, score.Total)
				assert.Equal(t, "New Name", score.AccountName)

				assert.ErrorIs(t, s.accounts.Update(ctx, "New Name", account("taken", 1, base)), repositories.ErrAccountConflict)
				assert.ErrorIs(t, s.accounts.Update(ctx, "ghost", account("ghost", 1, base)), repositories.ErrAccountNotFound)
			})

			t.Run("delete removes account and score", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.accounts.Create(ctx, account("Gone", 1, base)))
				require.NoError(t, s.accounts.Delete(ctx, "GONE"))

				_, err := s.accounts.GetScore(ctx, "Gone")
				assert.ErrorIs(t, err, repositories.ErrAccountNotFound)
				assert.ErrorIs(t, s.accounts.Delete(ctx, "Gone"), repositories.ErrAccountNotFound)
				assert.ErrorIs(t, s.accounts.SaveScore(ctx, models.NewUnknownScore("Gone")), repositories.ErrAccountNotFound)

				scores, err := s.accounts.ListScores(ctx)
				require.NoError(t, err)
				assert.Empty(t, scores)
			})
		})
	}
}

func TestOverrideRepository(t *testing.T) {
	ctx := context.Background()
	setAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, err := s.overrides.Get(ctx, 5)
			assert.ErrorIs(t, err, repositories.ErrOverrideNotFound)

			require.NoError(t, s.overrides.Upsert(ctx, &models.Override{OwnerID: 5, Total: 300, SetBy: 1, SetAt: setAt}))
			require.NoError(t, s.overrides.Upsert(ctx, &models.Override{OwnerID: 5, Total: 420, SetBy: 2, SetAt: setAt}))
			require.NoError(t, s.overrides.Upsert(ctx, &models.Override{OwnerID: 3, Total: 10, SetBy: 2, SetAt: setAt}))

			got, err := s.overrides.Get(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, 420, got.Total)
			assert.Equal(t, models.OwnerID(2), got.SetBy)

			list, err := s.overrides.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, models.OwnerID(3), list[0].OwnerID)

			require.NoError(t, s.overrides.Delete(ctx, 5))
			require.NoError(t, s.overrides.Delete(ctx, 5))
			_, err = s.overrides.Get(ctx, 5)
			assert.ErrorIs(t, err, repositories.ErrOverrideNotFound)
		})
	}
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, err := s.settings.Get(ctx, models.SettingLeaderboardChannel)
			assert.ErrorIs(t, err, repositories.ErrSettingNotFound)

			require.NoError(t, s.settings.Set(ctx, models.SettingLeaderboardChannel, "1"))
			require.NoError(t, s.settings.Set(ctx, models.SettingLeaderboardChannel, "2"))
			v, err := s.settings.Get(ctx, models.SettingLeaderboardChannel)
			require.NoError(t, err)
			assert.Equal(t, "2", v)

			require.NoError(t, s.settings.Delete(ctx, models.SettingLeaderboardChannel))
			require.NoError(t, s.settings.Delete(ctx, models.SettingLeaderboardChannel))
			_, err = s.settings.Get(ctx, models.SettingLeaderboardChannel)
			assert.ErrorIs(t, err, repositories.ErrSettingNotFound)
		})
	}
}
