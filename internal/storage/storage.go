// Package storage defines the persistence contracts for the arena.
// The sqlite subpackage provides the only production implementation.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pcgarena/arena/internal/types"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// IsUniqueConstraint reports whether err is a UNIQUE violation. The
// vote path relies on this to resolve double-submit races.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Queries is the shared read/write surface. It is implemented both by
// the store (auto-commit, safe for concurrent readers) and by a
// transaction handle (all statements on one connection).
type Queries interface {
	// Generators
	UpsertGenerator(ctx context.Context, g *types.Generator) error
	GetGenerator(ctx context.Context, id string) (*types.Generator, error)
	ListGenerators(ctx context.Context, activeOnly bool) ([]*types.Generator, error)
	ListGeneratorsByOwner(ctx context.Context, ownerUserID string, activeOnly bool) ([]*types.Generator, error)
	SetGeneratorActive(ctx context.Context, id string, active bool) error
	SoftDeleteGenerator(ctx context.Context, id string) error
	DeleteGenerator(ctx context.Context, id string) error

	// Levels
	InsertLevel(ctx context.Context, l *types.Level) error
	GetLevel(ctx context.Context, id string) (*types.Level, error)
	ListActiveLevelIDs(ctx context.Context, generatorID string) ([]string, error)
	CountActiveLevels(ctx context.Context, generatorID string) (int, error)
	ListLevelsByGenerator(ctx context.Context, generatorID string, activeOnly bool) ([]*types.Level, error)
	LevelHasBattles(ctx context.Context, levelID string) (bool, error)
	GeneratorHasBattles(ctx context.Context, generatorID string) (bool, error)
	SoftDeleteLevel(ctx context.Context, id string) error
	DeleteLevel(ctx context.Context, id string) error

	// Ratings
	GetRating(ctx context.Context, generatorID string) (*types.Rating, error)
	UpsertRating(ctx context.Context, r *types.Rating) error
	ListRatings(ctx context.Context) ([]*types.Rating, error)
	DeleteRating(ctx context.Context, generatorID string) error

	// Battles
	InsertBattle(ctx context.Context, b *types.Battle) error
	GetBattle(ctx context.Context, id string) (*types.Battle, error)
	SetBattleStatus(ctx context.Context, id string, status types.BattleStatus) error
	ExpireBattlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountBattles(ctx context.Context) (int, error)

	// Votes and rating events
	InsertVote(ctx context.Context, v *types.Vote) error
	GetVoteByBattle(ctx context.Context, battleID string) (*types.Vote, error)
	CountVotes(ctx context.Context) (int, error)
	InsertRatingEvent(ctx context.Context, e *types.RatingEvent) error

	// Users and sessions
	CreateUser(ctx context.Context, u *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByGoogleSubject(ctx context.Context, subject string) (*types.User, error)
	UpdateUser(ctx context.Context, u *types.User) error
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, token string) (*types.Session, error)
	DeleteSession(ctx context.Context, token string) error
	FlagSession(ctx context.Context, token string) error
	CreateEmailToken(ctx context.Context, t *types.EmailToken) error
	ConsumeEmailToken(ctx context.Context, token string, purpose types.TokenPurpose) (*types.EmailToken, error)

	// Aggregates
	GetPairCounts(ctx context.Context) (map[[2]string]int, error)
	GetPairStats(ctx context.Context) ([]*types.PairStats, error)
	BumpPairStats(ctx context.Context, gen1, gen2 string, result types.VoteResult, at time.Time) error
	GetLevelStats(ctx context.Context, levelID string) (*types.LevelStats, error)
	UpsertLevelStats(ctx context.Context, s *types.LevelStats) error
	TouchPlayerProfile(ctx context.Context, playerID string, at time.Time) error
	CountPlayerProfiles(ctx context.Context) (int, error)

	// WipeSeasonData deletes all battle-derived state (votes, rating
	// events, battles, pair stats, level stats, ratings) while keeping
	// generators, levels, and accounts.
	WipeSeasonData(ctx context.Context) error
}

// Tx is the handle passed to RunInTransaction callbacks. All of its
// statements run on one connection inside BEGIN IMMEDIATE.
type Tx interface {
	Queries
}

// Store is the long-lived handle owned by the server.
type Store interface {
	Queries

	// RunInTransaction runs fn inside a write transaction. The
	// transaction commits when fn returns nil and rolls back on error
	// or panic.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// BackupTo writes a consistent snapshot of the database to path.
	BackupTo(ctx context.Context, path string) error

	// SizeBytes reports the on-disk database size (0 for in-memory).
	SizeBytes() (int64, error)

	// Path is the database file path ("" for in-memory).
	Path() string

	Close() error
}
