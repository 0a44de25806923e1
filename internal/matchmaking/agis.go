// Package matchmaking selects generator pairs for battles.
//
// The selector is a pure function over a snapshot of ratings and
// pairwise battle counts, so policies can be property-tested without a
// database. The thin "pick a level" step lives with the caller, which
// reads the level index inside the same transaction.
package matchmaking

import (
	"errors"
	"math"
	"math/rand"

	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/types"
)

// Policy tags recorded on issued battles for reproducibility.
const (
	PolicyUniformV0 = "uniform_v0"
	PolicyAGISV1    = "agis_v1"
)

// ErrNoBattleAvailable signals that no legal pair exists right now;
// the caller surfaces it as a retryable NO_BATTLE_AVAILABLE.
var ErrNoBattleAvailable = errors.New("no battle available")

// GeneratorStats is one generator's view in the matchmaking snapshot.
// Only active generators with at least one active level belong here.
type GeneratorStats struct {
	ID          string
	Rating      float64
	RD          float64
	Volatility  float64
	GamesPlayed int
}

// Snapshot is the input the policies sample from. PairCounts is keyed
// by canonical (lexicographic) unordered pair order.
type Snapshot struct {
	Generators []GeneratorStats
	PairCounts map[[2]string]int
}

// Config carries the tunable AGIS parameters.
type Config struct {
	// TargetBattlesPerPair (T): pairs below this count are sampled
	// first, uniformly, until coverage is reached.
	TargetBattlesPerPair int
	// SimilaritySigma (sigma) controls the rating-proximity kernel.
	SimilaritySigma float64
	// QualityBias (beta) weights exploration toward high-rated pairs.
	QualityBias float64
	// MinGamesForSignificance (N0) marks when a generator's rating is
	// considered converged.
	MinGamesForSignificance int
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		TargetBattlesPerPair:    10,
		SimilaritySigma:         150,
		QualityBias:             0.2,
		MinGamesForSignificance: 30,
	}
}

// Match is an ordered pair of distinct generator ids. Left/right is
// assigned by fair coin so positional bias cannot masquerade as skill.
type Match struct {
	LeftID  string
	RightID string
	Policy  string
}

// SelectUniform picks two distinct generators uniformly (uniform_v0).
func SelectUniform(snap Snapshot, rng *rand.Rand) (Match, error) {
	n := len(snap.Generators)
	if n < 2 {
		return Match{}, ErrNoBattleAvailable
	}
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	m := Match{LeftID: snap.Generators[i].ID, RightID: snap.Generators[j].ID, Policy: PolicyUniformV0}
	return coinFlip(m, rng), nil
}

// SelectAGIS picks a pair with the agis_v1 policy: coverage first,
// then rating-proximity and uncertainty weighted sampling.
func SelectAGIS(snap Snapshot, cfg Config, rng *rand.Rand) (Match, error) {
	gens := snap.Generators
	n := len(gens)
	if n < 2 {
		return Match{}, ErrNoBattleAvailable
	}

	// Coverage pass: any under-sampled unordered pair wins outright.
	type pair struct{ a, b int }
	var underTarget []pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if pairCount(snap, gens[i].ID, gens[j].ID) < cfg.TargetBattlesPerPair {
				underTarget = append(underTarget, pair{i, j})
			}
		}
	}
	if len(underTarget) > 0 {
		p := underTarget[rng.Intn(len(underTarget))]
		m := Match{LeftID: gens[p.a].ID, RightID: gens[p.b].ID, Policy: PolicyAGISV1}
		return coinFlip(m, rng), nil
	}

	// Informative pass: weighted sample over all pairs.
	var pairs []pair
	var weights []float64
	total := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w := pairWeight(gens[i], gens[j], cfg)
			pairs = append(pairs, pair{i, j})
			weights = append(weights, w)
			total += w
		}
	}
	if total <= 0 {
		p := pairs[rng.Intn(len(pairs))]
		m := Match{LeftID: gens[p.a].ID, RightID: gens[p.b].ID, Policy: PolicyAGISV1}
		return coinFlip(m, rng), nil
	}

	r := rng.Float64() * total
	for k, w := range weights {
		r -= w
		if r <= 0 {
			p := pairs[k]
			m := Match{LeftID: gens[p.a].ID, RightID: gens[p.b].ID, Policy: PolicyAGISV1}
			return coinFlip(m, rng), nil
		}
	}
	// Floating-point residue: fall back to the last pair.
	p := pairs[len(pairs)-1]
	m := Match{LeftID: gens[p.a].ID, RightID: gens[p.b].ID, Policy: PolicyAGISV1}
	return coinFlip(m, rng), nil
}

// pairWeight scores an (a,b) candidate for the informative pass:
// proximity x uncertainty x (1 + beta*qualityBias).
func pairWeight(a, b GeneratorStats, cfg Config) float64 {
	ratingDiff := a.Rating - b.Rating
	proximity := math.Exp(-(ratingDiff * ratingDiff) / (2 * cfg.SimilaritySigma * cfg.SimilaritySigma))

	uncertainty := rating.InformationGain(a.RD, b.RD)

	// Monotone quality bias over the pair's mean rating, normalized
	// against the 600..1400 band typical ratings land in.
	meanRating := (a.Rating + b.Rating) / 2
	quality := clamp01((meanRating - 600) / 800)

	w := proximity * uncertainty * (1 + cfg.QualityBias*quality)
	return math.Max(w, 0.001)
}

func pairCount(snap Snapshot, a, b string) int {
	k1, k2 := types.PairKey(a, b)
	return snap.PairCounts[[2]string{k1, k2}]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// coinFlip swaps left and right with probability one half.
func coinFlip(m Match, rng *rand.Rand) Match {
	if rng.Intn(2) == 1 {
		m.LeftID, m.RightID = m.RightID, m.LeftID
	}
	return m
}
