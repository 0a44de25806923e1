package submit

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/storage/sqlite"
	"github.com/pcgarena/arena/internal/types"
)

const ownerID = "u_owner"

func newTestSubmit(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, rating.DefaultParams(), zap.NewNop()), store
}

func levelText(width int) string {
	rows := make([]string, types.LevelHeight)
	for i := range rows {
		rows[i] = strings.Repeat("-", width)
	}
	rows[types.LevelHeight-1] = strings.Repeat("X", width)
	return strings.Join(rows, "\n") + "\n"
}

// zipOf builds an in-memory archive from name -> body pairs.
func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// validZip produces n distinct valid levels (widths vary so hashes differ).
func validZip(t *testing.T, n int) []byte {
	t.Helper()
	files := make(map[string]string, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("levels/lvl-%03d.txt", i)] = uniqueTop(levelText(20+i%200), i)
	}
	return zipOf(t, files)
}

// uniqueTop replaces the first row with a coin pattern derived from i.
func uniqueTop(body string, i int) string {
	rows := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	top := []byte(rows[0])
	for j := 0; j < len(top) && i > 0; j++ {
		if i&1 == 1 {
			top[j] = 'o'
		}
		i >>= 1
	}
	rows[0] = string(top)
	return strings.Join(rows, "\n") + "\n"
}

func upload(t *testing.T, svc *Service, id string, levels int) *UploadResult {
	t.Helper()
	res, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID,
		GeneratorID: id,
		Name:        "Test Generator",
		Version:     "1.0.0",
		ZipData:     validZip(t, levels),
	})
	require.NoError(t, err)
	return res
}

func TestCreateHappyPath(t *testing.T) {
	svc, store := newTestSubmit(t)
	ctx := context.Background()

	res := upload(t, svc, "ga-markov", 60)
	assert.Equal(t, 60, res.LevelCount)
	assert.False(t, res.Replaced)

	gen, err := store.GetGenerator(ctx, "ga-markov")
	require.NoError(t, err)
	assert.True(t, gen.IsActive)
	assert.Equal(t, ownerID, gen.OwnerUserID)

	n, err := store.CountActiveLevels(ctx, "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	r, err := store.GetRating(ctx, "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, r.Value)
	assert.Equal(t, 350.0, r.RD)
}

func TestCreateRejectsBadIDs(t *testing.T) {
	svc, _ := newTestSubmit(t)
	for _, id := range []string{"ab", "1starts-with-digit", "has space", "way-" + strings.Repeat("x", 40), "bad!char"} {
		_, err := svc.Create(context.Background(), UploadRequest{
			OwnerUserID: ownerID, GeneratorID: id, ZipData: validZip(t, 50),
		})
		assert.Equal(t, apierr.CodeInvalidGeneratorID, apierr.From(err).Code, "id %q", id)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	svc, _ := newTestSubmit(t)
	upload(t, svc, "ga-markov", 50)
	_, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: "u_other", GeneratorID: "ga-markov", ZipData: validZip(t, 50),
	})
	assert.Equal(t, apierr.CodeGeneratorIDExists, apierr.From(err).Code)
}

func TestCreateQuota(t *testing.T) {
	svc, _ := newTestSubmit(t)
	for i := 0; i < MaxActiveGenerators; i++ {
		upload(t, svc, fmt.Sprintf("gen-%d", i), 50)
	}
	_, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "gen-overflow", ZipData: validZip(t, 50),
	})
	assert.Equal(t, apierr.CodeMaxGenerators, apierr.From(err).Code)
}

func TestCreateLevelCountBounds(t *testing.T) {
	svc, _ := newTestSubmit(t)

	_, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "too-few", ZipData: validZip(t, 49),
	})
	assert.Equal(t, apierr.CodeNotEnoughLevels, apierr.From(err).Code)

	_, err = svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "too-many", ZipData: validZip(t, 201),
	})
	assert.Equal(t, apierr.CodeTooManyLevels, apierr.From(err).Code)
}

func TestCreateInvalidLevelNamesFile(t *testing.T) {
	svc, store := newTestSubmit(t)

	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("lvl-%03d.txt", i)] = uniqueTop(levelText(30), i)
	}
	files["lvl-bad.txt"] = "only\ntwo rows\n"
	_, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "ga-markov", ZipData: zipOf(t, files),
	})
	ae := apierr.From(err)
	assert.Equal(t, apierr.CodeLevelValidation, ae.Code)
	details, ok := ae.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "lvl-bad.txt", details["file"])

	// Nothing persisted.
	_, err = store.GetGenerator(context.Background(), "ga-markov")
	assert.Error(t, err)
}

func TestCreateSkipsNonLevelEntries(t *testing.T) {
	svc, store := newTestSubmit(t)

	files := map[string]string{
		"__MACOSX/lvl-000.txt": "resource fork junk",
		"levels/.DS_Store.txt": "junk",
		"levels/readme.md":     "docs",
		"levels/subdir/":       "",
		"levels/._lvl-001.txt": "apple double",
	}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("levels/lvl-%03d.txt", i)] = uniqueTop(levelText(30), i)
	}
	res, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "ga-markov", ZipData: zipOf(t, files),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res.LevelCount)

	n, err := store.CountActiveLevels(context.Background(), "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestCreateRejectsGarbageAndOversize(t *testing.T) {
	svc, _ := newTestSubmit(t)

	_, err := svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "ga-markov", ZipData: []byte("not a zip"),
	})
	assert.Equal(t, apierr.CodeInvalidZip, apierr.From(err).Code)

	_, err = svc.Create(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "ga-markov",
		ZipData: make([]byte, MaxZipBytes+1),
	})
	assert.Equal(t, apierr.CodeZipTooLarge, apierr.From(err).Code)
}

func TestUpdateReplacesLevelSetPreservingRating(t *testing.T) {
	svc, store := newTestSubmit(t)
	ctx := context.Background()
	upload(t, svc, "ga-markov", 50)

	// Simulate an earned rating and one battle referencing an old level.
	now := time.Now().UTC()
	require.NoError(t, store.UpsertRating(ctx, &types.Rating{
		GeneratorID: "ga-markov", Value: 1180, RD: 140, Volatility: 0.059,
		GamesPlayed: 12, Wins: 9, Losses: 3, UpdatedAt: now,
	}))
	oldIDs, err := store.ListActiveLevelIDs(ctx, "ga-markov")
	require.NoError(t, err)
	require.NoError(t, store.InsertBattle(ctx, &types.Battle{
		ID: "btl_history", SessionID: "33333333-3333-4333-8333-333333333333",
		Status: types.BattleCompleted,
		LeftLevelID: oldIDs[0], RightLevelID: oldIDs[1],
		LeftGeneratorID: "ga-markov", RightGeneratorID: "ga-markov",
		IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	res, err := svc.Update(ctx, UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "ga-markov",
		Version: "2.0.0", ZipData: validZip(t, 55),
	})
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.Equal(t, 55, res.LevelCount)
	assert.Equal(t, 2, res.SoftDeleted)

	// Battle-referenced levels survive inactive; the rest are gone.
	for _, id := range oldIDs[:2] {
		lvl, err := store.GetLevel(ctx, id)
		require.NoError(t, err)
		assert.False(t, lvl.IsActive)
	}
	_, err = store.GetLevel(ctx, oldIDs[2])
	assert.Error(t, err)

	n, err := store.CountActiveLevels(ctx, "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, 55, n)

	// Rating carried over verbatim; version bumped.
	r, err := store.GetRating(ctx, "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, 1180.0, r.Value)
	assert.Equal(t, 12, r.GamesPlayed)
	gen, err := store.GetGenerator(ctx, "ga-markov")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", gen.Version)
}

func TestUpdateRequiresOwnership(t *testing.T) {
	svc, _ := newTestSubmit(t)
	upload(t, svc, "ga-markov", 50)

	_, err := svc.Update(context.Background(), UploadRequest{
		OwnerUserID: "u_intruder", GeneratorID: "ga-markov", ZipData: validZip(t, 50),
	})
	assert.Equal(t, apierr.CodeNotOwner, apierr.From(err).Code)

	_, err = svc.Update(context.Background(), UploadRequest{
		OwnerUserID: ownerID, GeneratorID: "no-such-gen", ZipData: validZip(t, 50),
	})
	assert.Equal(t, apierr.CodeGeneratorNotFound, apierr.From(err).Code)
}

func TestDeleteWithoutHistoryIsHard(t *testing.T) {
	svc, store := newTestSubmit(t)
	ctx := context.Background()
	upload(t, svc, "ga-markov", 50)

	require.NoError(t, svc.Delete(ctx, ownerID, "ga-markov"))
	_, err := store.GetGenerator(ctx, "ga-markov")
	assert.Error(t, err)
	_, err = store.GetRating(ctx, "ga-markov")
	assert.Error(t, err)
}

func TestDeleteWithHistoryIsSoft(t *testing.T) {
	svc, store := newTestSubmit(t)
	ctx := context.Background()
	upload(t, svc, "ga-markov", 50)

	ids, err := store.ListActiveLevelIDs(ctx, "ga-markov")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.InsertBattle(ctx, &types.Battle{
		ID: "btl_history", SessionID: "33333333-3333-4333-8333-333333333333",
		Status: types.BattleCompleted,
		LeftLevelID: ids[0], RightLevelID: ids[1],
		LeftGeneratorID: "ga-markov", RightGeneratorID: "ga-markov",
		IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	require.NoError(t, svc.Delete(ctx, ownerID, "ga-markov"))
	gen, err := store.GetGenerator(ctx, "ga-markov")
	require.NoError(t, err)
	assert.False(t, gen.IsActive)
	assert.Empty(t, gen.OwnerUserID)
	assert.Contains(t, gen.Name, "[deleted]")

	// Releasing the slot lets the owner upload again under the quota.
	owned, err := svc.ListOwned(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, owned)
}
