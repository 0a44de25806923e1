// Package types defines the core domain model for PCG Arena:
// generators, levels, ratings, battles, votes, rating events, users,
// and sessions, together with the enums and validation rules shared by
// the storage layer, the matchmaker, and the HTTP surface.
package types

import (
	"fmt"
	"time"
)

// ProtocolVersion is sent in every JSON response body. Clients refuse
// to proceed on any other value.
const ProtocolVersion = "arena/v0"

// VoteResult is the categorical outcome of a battle.
type VoteResult string

const (
	ResultLeft  VoteResult = "LEFT"
	ResultRight VoteResult = "RIGHT"
	ResultTie   VoteResult = "TIE"
	ResultSkip  VoteResult = "SKIP"
)

// IsValid reports whether r is one of the four recognized outcomes.
func (r VoteResult) IsValid() bool {
	switch r {
	case ResultLeft, ResultRight, ResultTie, ResultSkip:
		return true
	}
	return false
}

// BattleStatus is the lifecycle state of a battle.
// ISSUED is the initial state; COMPLETED and EXPIRED are terminal.
type BattleStatus string

const (
	BattleIssued    BattleStatus = "ISSUED"
	BattleCompleted BattleStatus = "COMPLETED"
	BattleExpired   BattleStatus = "EXPIRED"
)

// FormatASCIITilemap is the only level content format.
const FormatASCIITilemap = "ASCII_TILEMAP"

// Generator is an identity for a procedural level-generation process,
// represented by metadata plus a bag of pre-generated levels.
type Generator struct {
	ID               string
	Name             string
	Version          string
	Description      string
	Tags             []string
	DocumentationURL string
	IsActive         bool
	OwnerUserID      string // empty for seed generators and after soft-delete
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Level is a 16-row ASCII tilemap produced by a generator.
type Level struct {
	ID          string
	GeneratorID string
	Format      string
	Width       int
	Height      int
	Tilemap     string
	ContentHash string
	IsActive    bool
	CreatedAt   time.Time
}

// Rating is the Glicko-2 skill estimate for a generator, one row per
// generator, mutated only inside the vote transaction.
type Rating struct {
	GeneratorID string
	Value       float64
	RD          float64
	Volatility  float64
	GamesPlayed int
	Wins        int
	Losses      int
	Ties        int
	Skips       int
	UpdatedAt   time.Time
}

// CheckCounters verifies the accounting invariant
// games_played == wins + losses + ties + skips.
func (r *Rating) CheckCounters() error {
	if r.GamesPlayed != r.Wins+r.Losses+r.Ties+r.Skips {
		return fmt.Errorf("rating counters inconsistent for %s: games=%d wins=%d losses=%d ties=%d skips=%d",
			r.GeneratorID, r.GamesPlayed, r.Wins, r.Losses, r.Ties, r.Skips)
	}
	return nil
}

// Battle pairs two levels from two distinct generators for one session.
type Battle struct {
	ID               string
	SessionID        string
	Status           BattleStatus
	LeftLevelID      string
	RightLevelID     string
	LeftGeneratorID  string
	RightGeneratorID string
	Policy           string // matchmaking policy tag, e.g. "agis_v1"
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// Vote is the outcome a client submitted for a battle. At most one
// vote exists per battle (UNIQUE on BattleID).
type Vote struct {
	ID          string
	BattleID    string
	SessionID   string
	PlayerID    string
	Result      VoteResult
	LeftTags    []string
	RightTags   []string
	Telemetry   string // raw JSON blob as submitted
	PayloadHash string // canonical payload hash used as the idempotency key
	CreatedAt   time.Time
}

// RatingEvent is the per-vote audit record attributing a rating change
// to a specific vote, battle, and generator pair. Exactly one exists
// per non-SKIP vote, written in the same transaction.
type RatingEvent struct {
	ID               string
	VoteID           string
	BattleID         string
	LeftGeneratorID  string
	RightGeneratorID string
	Result           VoteResult
	DeltaLeft        float64
	DeltaRight       float64
	CreatedAt        time.Time
}

// User is an account created by password registration or by the first
// external-identity login.
type User struct {
	ID            string
	Email         string
	GoogleSubject string // external identity subject, empty for password users
	DisplayName   string
	PasswordHash  string // empty for external-identity users
	EmailVerified bool
	IsAdmin       bool
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// Session is a server-side login session keyed by its opaque token.
type Session struct {
	Token     string
	UserID    string
	Flagged   bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// EmailToken is a single-use token, either for email verification
// (24h expiry) or password reset (1h expiry).
type EmailToken struct {
	Token     string
	UserID    string
	Purpose   TokenPurpose
	ExpiresAt time.Time
}

// TokenPurpose distinguishes verification tokens from reset tokens.
type TokenPurpose string

const (
	TokenVerifyEmail   TokenPurpose = "verify_email"
	TokenResetPassword TokenPurpose = "reset_password"
)

// PairStats aggregates battle outcomes for an unordered generator
// pair. Gen1ID < Gen2ID lexicographically (canonical order).
type PairStats struct {
	Gen1ID      string
	Gen2ID      string
	BattleCount int
	Gen1Wins    int
	Gen2Wins    int
	Ties        int
	Skips       int
	LastBattle  time.Time
}

// PairKey returns the canonical unordered key for two generator ids.
func PairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// LevelStats aggregates per-level outcomes and telemetry, updated in
// the vote transaction.
type LevelStats struct {
	LevelID        string
	GeneratorID    string
	TimesShown     int
	TimesWon       int
	TimesLost      int
	TimesTied      int
	TimesSkipped   int
	TimesCompleted int
	TotalDeaths    int
	TotalPlaySecs  float64
	TagCounts      map[string]int
	UpdatedAt      time.Time
}

// PlayerProfile tracks a persistent (optional) player identity across
// sessions.
type PlayerProfile struct {
	PlayerID   string
	TotalVotes int
	FirstSeen  time.Time
	LastSeen   time.Time
}
