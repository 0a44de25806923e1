// Package arena implements the battle/vote core: issuing battles,
// accepting votes, sweeping expirations, and the read models built on
// top of them (leaderboard, confusion matrix, platform stats).
package arena

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/matchmaking"
	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/storage"
)

// Params carries the tunables the service needs at construction.
type Params struct {
	Rating             rating.Params
	Policy             string // matchmaking.PolicyAGISV1 or PolicyUniformV0
	Matchmaking        matchmaking.Config
	SuggestedTimeLimit time.Duration
	MinClientVersion   string
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{
		Rating:             rating.DefaultParams(),
		Policy:             matchmaking.PolicyAGISV1,
		Matchmaking:        matchmaking.DefaultConfig(),
		SuggestedTimeLimit: 5 * time.Minute,
		MinClientVersion:   "0.1.0",
	}
}

// Service owns the arena domain logic over a storage.Store.
type Service struct {
	store  storage.Store
	params Params
	logger *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	battlesServed atomic.Int64
	votesReceived atomic.Int64
}

// NewService wires the service. logger must be non-nil.
func NewService(store storage.Store, params Params, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		params: params,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// BattlesServed reports battles issued since process start.
func (s *Service) BattlesServed() int64 { return s.battlesServed.Load() }

// VotesReceived reports votes accepted since process start.
func (s *Service) VotesReceived() int64 { return s.votesReceived.Load() }

// Policy reports the configured matchmaking policy tag.
func (s *Service) Policy() string { return s.params.Policy }

// RatingParams exposes the configured rating defaults for read models.
func (s *Service) RatingParams() rating.Params { return s.params.Rating }

// checkClientVersion rejects clients older than the configured minimum.
func (s *Service) checkClientVersion(v string) error {
	if s.params.MinClientVersion == "" {
		return nil
	}
	cmp, err := compareVersions(v, s.params.MinClientVersion)
	if err != nil || cmp < 0 {
		return apierr.New(400, apierr.CodeUnsupportedClient,
			fmt.Sprintf("client version %q is not supported (minimum %s)", v, s.params.MinClientVersion), false)
	}
	return nil
}

// compareVersions compares dotted numeric versions, e.g. "0.2.1".
func compareVersions(a, b string) (int, error) {
	pa, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	pb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

func parseVersion(v string) ([3]int, error) {
	var out [3]int
	parts := strings.SplitN(strings.TrimSpace(v), ".", 4)
	if v == "" || len(parts) > 3 {
		return out, fmt.Errorf("malformed version %q", v)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, fmt.Errorf("malformed version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

func (s *Service) randIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// lockedRand returns the service rng plus its unlock function, for
// callers that hand the source to the matchmaker.
func (s *Service) lockedRand() (*rand.Rand, func()) {
	s.mu.Lock()
	return s.rng, s.mu.Unlock
}
