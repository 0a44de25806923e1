package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedGeneratorRow(t *testing.T, s *Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.UpsertGenerator(context.Background(), &types.Generator{
		ID:        id,
		Name:      id,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func seedLevelRow(t *testing.T, s *Store, id, generatorID string) {
	t.Helper()
	require.NoError(t, s.InsertLevel(context.Background(), &types.Level{
		ID:          id,
		GeneratorID: generatorID,
		Format:      types.FormatASCIITilemap,
		Width:       20,
		Height:      types.LevelHeight,
		Tilemap:     "level body",
		ContentHash: "sha256:" + id,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	// Open already migrated; running again must be a no-op.
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n)
	require.NoError(t, err)
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, len(names), n)
}

func TestGeneratorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g := &types.Generator{
		ID:          "gen_alpha",
		Name:        "Alpha",
		Version:     "1.2",
		Description: "notch-style generator",
		Tags:        []string{"classic", "speedrun"},
		IsActive:    true,
		OwnerUserID: "u_1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.UpsertGenerator(ctx, g))

	got, err := s.GetGenerator(ctx, "gen_alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, []string{"classic", "speedrun"}, got.Tags)
	assert.True(t, got.IsActive)

	// Upsert replaces metadata in place.
	g.Name = "Alpha v2"
	require.NoError(t, s.UpsertGenerator(ctx, g))
	got, err = s.GetGenerator(ctx, "gen_alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", got.Name)

	_, err = s.GetGenerator(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSoftDeleteGenerator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGeneratorRow(t, s, "gen_old")

	require.NoError(t, s.SoftDeleteGenerator(ctx, "gen_old"))
	got, err := s.GetGenerator(ctx, "gen_old")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "", got.OwnerUserID)
	assert.Equal(t, "gen_old [deleted]", got.Name)
}

func TestVoteUniquePerBattle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedGeneratorRow(t, s, "g1")
	seedGeneratorRow(t, s, "g2")
	seedLevelRow(t, s, "l1", "g1")
	seedLevelRow(t, s, "l2", "g2")
	require.NoError(t, s.InsertBattle(ctx, &types.Battle{
		ID: "btl_1", SessionID: "sess", Status: types.BattleIssued,
		LeftLevelID: "l1", RightLevelID: "l2",
		LeftGeneratorID: "g1", RightGeneratorID: "g2",
		Policy: "agis_v1", IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	v := &types.Vote{
		ID: "v_1", BattleID: "btl_1", SessionID: "sess",
		Result: types.ResultLeft, PayloadHash: "h1", CreatedAt: now,
	}
	require.NoError(t, s.InsertVote(ctx, v))

	dup := *v
	dup.ID = "v_2"
	err := s.InsertVote(ctx, &dup)
	require.Error(t, err)
	assert.True(t, storage.IsUniqueConstraint(err))

	got, err := s.GetVoteByBattle(ctx, "btl_1")
	require.NoError(t, err)
	assert.Equal(t, "v_1", got.ID)
	assert.Equal(t, types.ResultLeft, got.Result)
}

func TestExpireBattlesBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedGeneratorRow(t, s, "g1")
	seedGeneratorRow(t, s, "g2")
	seedLevelRow(t, s, "l1", "g1")
	seedLevelRow(t, s, "l2", "g2")

	mkBattle := func(id string, expires time.Time, status types.BattleStatus) {
		require.NoError(t, s.InsertBattle(ctx, &types.Battle{
			ID: id, SessionID: "sess", Status: status,
			LeftLevelID: "l1", RightLevelID: "l2",
			LeftGeneratorID: "g1", RightGeneratorID: "g2",
			IssuedAt: now.Add(-time.Hour), ExpiresAt: expires,
		}))
	}
	mkBattle("btl_stale", now.Add(-time.Minute), types.BattleIssued)
	mkBattle("btl_live", now.Add(time.Hour), types.BattleIssued)
	mkBattle("btl_done", now.Add(-time.Minute), types.BattleCompleted)

	n, err := s.ExpireBattlesBefore(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	b, err := s.GetBattle(ctx, "btl_stale")
	require.NoError(t, err)
	assert.Equal(t, types.BattleExpired, b.Status)
	b, err = s.GetBattle(ctx, "btl_done")
	require.NoError(t, err)
	assert.Equal(t, types.BattleCompleted, b.Status)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx storage.Tx) error {
		now := time.Now().UTC()
		if err := tx.UpsertGenerator(ctx, &types.Generator{
			ID: "gen_tx", Name: "tx", IsActive: true, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = s.GetGenerator(ctx, "gen_tx")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsumeEmailTokenIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(ctx, &types.User{
		ID: "u_1", Email: "a@example.com", CreatedAt: now, LastLoginAt: now,
	}))
	require.NoError(t, s.CreateEmailToken(ctx, &types.EmailToken{
		Token: "tok1", UserID: "u_1", Purpose: types.TokenVerifyEmail,
		ExpiresAt: now.Add(24 * time.Hour),
	}))

	got, err := s.ConsumeEmailToken(ctx, "tok1", types.TokenVerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, "u_1", got.UserID)

	_, err = s.ConsumeEmailToken(ctx, "tok1", types.TokenVerifyEmail)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsumeEmailTokenRejectsExpiredAndWrongPurpose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(ctx, &types.User{
		ID: "u_1", Email: "a@example.com", CreatedAt: now, LastLoginAt: now,
	}))

	require.NoError(t, s.CreateEmailToken(ctx, &types.EmailToken{
		Token: "expired", UserID: "u_1", Purpose: types.TokenResetPassword,
		ExpiresAt: now.Add(-time.Minute),
	}))
	_, err := s.ConsumeEmailToken(ctx, "expired", types.TokenResetPassword)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.CreateEmailToken(ctx, &types.EmailToken{
		Token: "verify", UserID: "u_1", Purpose: types.TokenVerifyEmail,
		ExpiresAt: now.Add(time.Hour),
	}))
	_, err = s.ConsumeEmailToken(ctx, "verify", types.TokenResetPassword)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBumpPairStatsCanonicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Left generator "zeta" sorts after "alpha": a LEFT win must land
	// on the gen2 column of the canonical row.
	require.NoError(t, s.BumpPairStats(ctx, "zeta", "alpha", types.ResultLeft, now))
	require.NoError(t, s.BumpPairStats(ctx, "alpha", "zeta", types.ResultLeft, now))
	require.NoError(t, s.BumpPairStats(ctx, "alpha", "zeta", types.ResultTie, now))
	require.NoError(t, s.BumpPairStats(ctx, "zeta", "alpha", types.ResultSkip, now))

	stats, err := s.GetPairStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	p := stats[0]
	assert.Equal(t, "alpha", p.Gen1ID)
	assert.Equal(t, "zeta", p.Gen2ID)
	assert.Equal(t, 4, p.BattleCount)
	assert.Equal(t, 1, p.Gen1Wins)
	assert.Equal(t, 1, p.Gen2Wins)
	assert.Equal(t, 1, p.Ties)
	assert.Equal(t, 1, p.Skips)

	counts, err := s.GetPairCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[[2]string{"alpha", "zeta"}])
}

func TestTouchPlayerProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.TouchPlayerProfile(ctx, "player-1", now))
	require.NoError(t, s.TouchPlayerProfile(ctx, "player-1", now.Add(time.Minute)))
	require.NoError(t, s.TouchPlayerProfile(ctx, "", now)) // anonymous, ignored

	n, err := s.CountPlayerProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackupTo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGeneratorRow(t, s, "gen_backup")

	target := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.BackupTo(ctx, target))

	restored, err := Open(ctx, target)
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()
	g, err := restored.GetGenerator(ctx, "gen_backup")
	require.NoError(t, err)
	assert.Equal(t, "gen_backup", g.ID)

	// Refuses to clobber an existing file.
	require.Error(t, s.BackupTo(ctx, target))
}

func TestConcurrentWritersSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			errCh <- s.RunInTransaction(ctx, func(tx storage.Tx) error {
				now := time.Now().UTC()
				return tx.UpsertGenerator(ctx, &types.Generator{
					ID:        fmt.Sprintf("gen_%02d", i),
					Name:      "worker",
					IsActive:  true,
					CreatedAt: now,
					UpdatedAt: now,
				})
			})
		}(i)
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errCh)
	}

	gens, err := s.ListGenerators(ctx, true)
	require.NoError(t, err)
	assert.Len(t, gens, workers)
}
