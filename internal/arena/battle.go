package arena

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/matchmaking"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// NextBattleRequest is the decoded body of POST /v1/battles:next.
type NextBattleRequest struct {
	ClientVersion string `json:"client_version"`
	SessionID     string `json:"session_id"`
	PlayerID      string `json:"player_id,omitempty"`
}

// BattleEnvelope is the response of battles:next.
type BattleEnvelope struct {
	ProtocolVersion string       `json:"protocol_version"`
	BattleID        string       `json:"battle_id"`
	IssuedAtUTC     string       `json:"issued_at_utc"`
	ExpiresAtUTC    string       `json:"expires_at_utc"`
	Presentation    Presentation `json:"presentation"`
	Left            BattleSide   `json:"left"`
	Right           BattleSide   `json:"right"`
}

type Presentation struct {
	PlayOrder                 string `json:"play_order"`
	SuggestedTimeLimitSeconds int    `json:"suggested_time_limit_seconds"`
}

type BattleSide struct {
	LevelID     string        `json:"level_id"`
	Generator   GeneratorInfo `json:"generator"`
	Format      LevelFormat   `json:"format"`
	Payload     LevelPayload  `json:"level_payload"`
	ContentHash string        `json:"content_hash"`
}

type GeneratorInfo struct {
	GeneratorID      string `json:"generator_id"`
	Name             string `json:"name"`
	Version          string `json:"version"`
	DocumentationURL string `json:"documentation_url,omitempty"`
}

type LevelFormat struct {
	Type    string `json:"type"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Newline string `json:"newline"`
}

type LevelPayload struct {
	Tilemap string `json:"tilemap"`
}

// NextBattle selects a pair, persists an ISSUED battle, and returns the
// playable envelope. The ratings/pairs snapshot, the selection, and the
// insert share one transaction so a concurrent vote can never be half
// visible to the matchmaker.
func (s *Service) NextBattle(ctx context.Context, req NextBattleRequest) (*BattleEnvelope, error) {
	if err := s.checkClientVersion(req.ClientVersion); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return nil, apierr.Invalid(apierr.CodeInvalidPayload, "session_id must be a UUID")
	}

	now := time.Now().UTC()
	var envelope *BattleEnvelope
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		snap, err := s.buildSnapshot(ctx, tx)
		if err != nil {
			return err
		}

		match, err := s.selectMatch(snap)
		if err != nil {
			return err
		}

		left, err := s.pickLevel(ctx, tx, match.LeftID)
		if err != nil {
			return err
		}
		right, err := s.pickLevel(ctx, tx, match.RightID)
		if err != nil {
			return err
		}

		battle := &types.Battle{
			ID:               "btl_" + uuid.NewString(),
			SessionID:        req.SessionID,
			Status:           types.BattleIssued,
			LeftLevelID:      left.ID,
			RightLevelID:     right.ID,
			LeftGeneratorID:  match.LeftID,
			RightGeneratorID: match.RightID,
			Policy:           match.Policy,
			IssuedAt:         now,
			ExpiresAt:        now.Add(s.params.SuggestedTimeLimit),
		}
		if err := tx.InsertBattle(ctx, battle); err != nil {
			return err
		}

		leftSide, err := buildSide(ctx, tx, left, match.LeftID)
		if err != nil {
			return err
		}
		rightSide, err := buildSide(ctx, tx, right, match.RightID)
		if err != nil {
			return err
		}

		envelope = &BattleEnvelope{
			ProtocolVersion: types.ProtocolVersion,
			BattleID:        battle.ID,
			IssuedAtUTC:     battle.IssuedAt.Format(time.RFC3339),
			ExpiresAtUTC:    battle.ExpiresAt.Format(time.RFC3339),
			Presentation: Presentation{
				PlayOrder:                 "LEFT_THEN_RIGHT",
				SuggestedTimeLimitSeconds: int(s.params.SuggestedTimeLimit.Seconds()),
			},
			Left:  *leftSide,
			Right: *rightSide,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.battlesServed.Add(1)
	s.logger.Debug("battle issued",
		zap.String("battle_id", envelope.BattleID),
		zap.String("left", envelope.Left.Generator.GeneratorID),
		zap.String("right", envelope.Right.Generator.GeneratorID))
	return envelope, nil
}

// buildSnapshot collects the eligible generators (active with at least
// one active level) together with their ratings and pair counts.
func (s *Service) buildSnapshot(ctx context.Context, tx storage.Tx) (matchmaking.Snapshot, error) {
	var snap matchmaking.Snapshot
	gens, err := tx.ListGenerators(ctx, true)
	if err != nil {
		return snap, err
	}
	for _, g := range gens {
		n, err := tx.CountActiveLevels(ctx, g.ID)
		if err != nil {
			return snap, err
		}
		if n == 0 {
			continue
		}
		r, err := tx.GetRating(ctx, g.ID)
		if errors.Is(err, storage.ErrNotFound) {
			r = &types.Rating{
				GeneratorID: g.ID,
				Value:       s.params.Rating.InitialRating,
				RD:          s.params.Rating.InitialRD,
				Volatility:  s.params.Rating.InitialVolatility,
			}
		} else if err != nil {
			return snap, err
		}
		snap.Generators = append(snap.Generators, matchmaking.GeneratorStats{
			ID:          g.ID,
			Rating:      r.Value,
			RD:          r.RD,
			Volatility:  r.Volatility,
			GamesPlayed: r.GamesPlayed,
		})
	}

	snap.PairCounts, err = tx.GetPairCounts(ctx)
	if err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Service) selectMatch(snap matchmaking.Snapshot) (matchmaking.Match, error) {
	rng, unlock := s.lockedRand()
	defer unlock()

	var match matchmaking.Match
	var err error
	if s.params.Policy == matchmaking.PolicyUniformV0 {
		match, err = matchmaking.SelectUniform(snap, rng)
	} else {
		match, err = matchmaking.SelectAGIS(snap, s.params.Matchmaking, rng)
	}
	if errors.Is(err, matchmaking.ErrNoBattleAvailable) {
		return match, apierr.Unavailable(apierr.CodeNoBattleAvailable, "no battle available right now")
	}
	return match, err
}

// pickLevel draws one active level of the generator uniformly.
func (s *Service) pickLevel(ctx context.Context, tx storage.Tx, generatorID string) (*types.Level, error) {
	ids, err := tx.ListActiveLevelIDs(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// Eligibility was checked in the same transaction; this means
		// the snapshot and level index disagree.
		return nil, apierr.Unavailable(apierr.CodeNoBattleAvailable, "no battle available right now")
	}
	return tx.GetLevel(ctx, ids[s.randIntn(len(ids))])
}

func buildSide(ctx context.Context, tx storage.Tx, level *types.Level, generatorID string) (*BattleSide, error) {
	gen, err := tx.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	return &BattleSide{
		LevelID: level.ID,
		Generator: GeneratorInfo{
			GeneratorID:      gen.ID,
			Name:             gen.Name,
			Version:          gen.Version,
			DocumentationURL: gen.DocumentationURL,
		},
		Format: LevelFormat{
			Type:    types.FormatASCIITilemap,
			Width:   level.Width,
			Height:  types.LevelHeight,
			Newline: "\n",
		},
		Payload:     LevelPayload{Tilemap: level.Tilemap},
		ContentHash: level.ContentHash,
	}, nil
}
