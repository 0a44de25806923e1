// Package rating implements the Glicko-2 skill update for pairwise
// generator comparisons.
//
// Reference: http://www.glicko.net/glicko/glicko2.pdf
//
// All functions are pure: no I/O, no logging, deterministic for a
// given input and parameter set, so they can be verified against
// golden vectors.
package rating

import (
	"fmt"
	"math"

	"github.com/pcgarena/arena/internal/types"
)

// glickoScale converts between the Glicko-2 internal scale and the
// display scale.
const glickoScale = 173.7178

// epsilon is the convergence tolerance for the volatility iteration.
const epsilon = 0.000001

// Display-scale clamps.
const (
	MinRD     = 30.0
	MaxRD     = 350.0
	MinRating = 100.0
	MaxRating = 3000.0
)

// Params holds the configured Glicko-2 system constants.
type Params struct {
	// InitialRating is the display-scale center (new generators start
	// here; the internal scale is zeroed on it).
	InitialRating     float64
	InitialRD         float64
	InitialVolatility float64
	// Tau constrains volatility change per rating period.
	Tau float64
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{
		InitialRating:     1000.0,
		InitialRD:         350.0,
		InitialVolatility: 0.06,
		Tau:               0.5,
	}
}

// Glicko holds one side's skill estimate in display scale.
type Glicko struct {
	Rating     float64
	RD         float64
	Volatility float64
}

// NewRating returns the initial estimate for a freshly seen generator.
func (p Params) NewRating() Glicko {
	return Glicko{Rating: p.InitialRating, RD: p.InitialRD, Volatility: p.InitialVolatility}
}

func (p Params) toInternal(g Glicko) (mu, phi float64) {
	return (g.Rating - p.InitialRating) / glickoScale, g.RD / glickoScale
}

func (p Params) fromInternal(mu, phi, sigma float64) Glicko {
	return Glicko{
		Rating:     clamp(mu*glickoScale+p.InitialRating, MinRating, MaxRating),
		RD:         clamp(phi*glickoScale, MinRD, MaxRD),
		Volatility: sigma,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// g reduces the impact of a game based on the opponent's uncertainty.
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

// expected is the expected score against opponent j.
func expected(mu, muJ, phiJ float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phiJ)*(mu-muJ)))
}

// newVolatility runs the Illinois iteration of step 5.
func newVolatility(sigma, phi, v, delta, tau float64) float64 {
	a := math.Log(sigma * sigma)
	phiSq := phi * phi

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phiSq - v - ex)
		denom := 2.0 * (phiSq + v + ex) * (phiSq + v + ex)
		return num/denom - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phiSq+v {
		B = math.Log(delta*delta - phiSq - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA, fB := f(A), f(B)
	for i := 0; math.Abs(B-A) > epsilon && i < 100; i++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2.0
		}
		B, fB = C, fC
	}

	return math.Exp(A / 2.0)
}

// updateOne applies the one-period Glicko-2 update for a single game
// against a single opponent. score is 1.0 win, 0.5 tie, 0.0 loss.
func (p Params) updateOne(player, opponent Glicko, score float64) Glicko {
	mu, phi := p.toInternal(player)
	muJ, phiJ := p.toInternal(opponent)

	gj := g(phiJ)
	e := expected(mu, muJ, phiJ)
	v := 1.0 / (gj * gj * e * (1.0 - e))
	delta := v * gj * (score - e)

	sigmaNew := newVolatility(player.Volatility, phi, v, delta, p.Tau)

	phiStar := math.Sqrt(phi*phi + sigmaNew*sigmaNew)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*gj*(score-e)

	return p.fromInternal(muNew, phiNew, sigmaNew)
}

// ApplyVote computes both sides' updated estimates for one vote.
//
// SKIP produces no update and zero deltas; the caller records the skip
// in the counters but emits no rating event. TIE scores 0.5/0.5;
// otherwise the winner scores 1.0 and the loser 0.0.
func (p Params) ApplyVote(left, right Glicko, result types.VoteResult) (newLeft, newRight Glicko, deltaLeft, deltaRight float64, err error) {
	var leftScore, rightScore float64
	switch result {
	case types.ResultSkip:
		return left, right, 0, 0, nil
	case types.ResultLeft:
		leftScore, rightScore = 1.0, 0.0
	case types.ResultRight:
		leftScore, rightScore = 0.0, 1.0
	case types.ResultTie:
		leftScore, rightScore = 0.5, 0.5
	default:
		return left, right, 0, 0, fmt.Errorf("invalid vote result %q", result)
	}

	newLeft = p.updateOne(left, right, leftScore)
	newRight = p.updateOne(right, left, rightScore)
	return newLeft, newRight, newLeft.Rating - left.Rating, newRight.Rating - right.Rating, nil
}

// ExpectedOutcome is the probability that the first side wins, used by
// matchmaking quality scoring.
func (p Params) ExpectedOutcome(a, b Glicko) float64 {
	muA, _ := p.toInternal(a)
	muB, phiB := p.toInternal(b)
	return expected(muA, muB, phiB)
}

// InformationGain estimates how informative a match between two sides
// would be. Higher when both RDs are high.
func InformationGain(rdA, rdB float64) float64 {
	na := (rdA - MinRD) / (MaxRD - MinRD)
	nb := (rdB - MinRD) / (MaxRD - MinRD)
	return math.Sqrt(na * nb)
}

// MatchQuality scores a candidate pairing: best when the expected
// outcome is near 0.5 and the rating gap is small relative to the
// combined uncertainty.
func (p Params) MatchQuality(a, b Glicko) float64 {
	ratingDiff := math.Abs(a.Rating - b.Rating)
	combinedRD := math.Sqrt(a.RD*a.RD + b.RD*b.RD)

	e := p.ExpectedOutcome(a, b)
	outcomeUncertainty := 1.0 - math.Abs(2.0*e-1.0)
	ratingPenalty := math.Exp(-ratingDiff * ratingDiff / (2 * combinedRD * combinedRD))

	return outcomeUncertainty * ratingPenalty
}
