package arena

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// VoteRequest is the decoded body of POST /v1/votes.
type VoteRequest struct {
	ClientVersion string           `json:"client_version"`
	SessionID     string           `json:"session_id"`
	BattleID      string           `json:"battle_id"`
	PlayerID      string           `json:"player_id,omitempty"`
	Result        types.VoteResult `json:"result"`
	LeftTags      []string         `json:"left_tags"`
	RightTags     []string         `json:"right_tags"`
	Telemetry     json.RawMessage  `json:"telemetry"`
}

// VoteResponse is the body returned on acceptance, replays included.
type VoteResponse struct {
	ProtocolVersion    string              `json:"protocol_version"`
	Accepted           bool                `json:"accepted"`
	VoteID             string              `json:"vote_id"`
	LeaderboardPreview []*LeaderboardEntry `json:"leaderboard_preview"`
}

// sideTelemetry is the per-side slice of the telemetry blob we
// aggregate into level_stats. Unknown fields are carried in the stored
// blob but not aggregated.
type sideTelemetry struct {
	Completed       bool    `json:"completed"`
	Deaths          int     `json:"deaths"`
	PlayTimeSeconds float64 `json:"play_time_seconds"`
}

type voteTelemetry struct {
	Left  sideTelemetry `json:"left"`
	Right sideTelemetry `json:"right"`
}

// SubmitVote validates and applies one vote. The insert, the battle
// completion, both rating updates, the rating event, and the aggregate
// bumps commit in a single transaction; replays are answered from the
// stored vote without touching state.
func (s *Service) SubmitVote(ctx context.Context, req VoteRequest) (*VoteResponse, error) {
	if err := s.checkClientVersion(req.ClientVersion); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return nil, apierr.Invalid(apierr.CodeInvalidPayload, "session_id must be a UUID")
	}
	if req.BattleID == "" {
		return nil, apierr.Invalid(apierr.CodeInvalidPayload, "battle_id is required")
	}
	if !req.Result.IsValid() {
		return nil, apierr.Invalid(apierr.CodeInvalidPayload,
			fmt.Sprintf("result must be one of LEFT, RIGHT, TIE, SKIP; got %q", req.Result))
	}

	now := time.Now().UTC()

	var (
		resp     *VoteResponse
		inserted bool
	)
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		battle, err := tx.GetBattle(ctx, req.BattleID)
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound(apierr.CodeBattleNotFound, "battle not found")
		}
		if err != nil {
			return err
		}

		existing, err := tx.GetVoteByBattle(ctx, req.BattleID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if existing == nil {
			// Expired battles admit no vote at all.
			if battle.Status == types.BattleExpired {
				return apierr.NotFound(apierr.CodeBattleNotFound, "battle expired")
			}
			if battle.Status != types.BattleIssued {
				return apierr.Conflict(apierr.CodeBattleAlreadyVoted, "battle is already closed")
			}
		} else if existing.SessionID != req.SessionID {
			return apierr.Conflict(apierr.CodeBattleAlreadyVoted, "battle was already voted on")
		}

		// Payload checks follow the battle checks so a dead battle id
		// reports BATTLE_NOT_FOUND even when the payload is also bad.
		if bad := types.ValidateTags(req.LeftTags); bad != "" {
			return apierr.Invalid(apierr.CodeInvalidTag, fmt.Sprintf("unknown tag %q", bad)).
				WithDetails(map[string]any{"tag": bad, "side": "left"})
		}
		if bad := types.ValidateTags(req.RightTags); bad != "" {
			return apierr.Invalid(apierr.CodeInvalidTag, fmt.Sprintf("unknown tag %q", bad)).
				WithDetails(map[string]any{"tag": bad, "side": "right"})
		}
		telemetry, terr := normalizeTelemetry(req.Telemetry)
		if terr != nil {
			return apierr.Invalid(apierr.CodeInvalidPayload, "telemetry must be a JSON object")
		}
		payloadHash := canonicalPayloadHash(req.Result, req.LeftTags, req.RightTags, telemetry)

		if existing != nil {
			resp, err = s.replayResponse(ctx, tx, existing, req.SessionID, payloadHash)
			return err
		}

		vote := &types.Vote{
			ID:          "v_" + uuid.NewString(),
			BattleID:    battle.ID,
			SessionID:   req.SessionID,
			PlayerID:    req.PlayerID,
			Result:      req.Result,
			LeftTags:    req.LeftTags,
			RightTags:   req.RightTags,
			Telemetry:   telemetry,
			PayloadHash: payloadHash,
			CreatedAt:   now,
		}
		if err := tx.InsertVote(ctx, vote); err != nil {
			if storage.IsUniqueConstraint(err) {
				// Race loser: answer from the winner's row.
				winner, gerr := tx.GetVoteByBattle(ctx, req.BattleID)
				if gerr != nil {
					return gerr
				}
				resp, err = s.replayResponse(ctx, tx, winner, req.SessionID, payloadHash)
				return err
			}
			return err
		}
		inserted = true

		if err := tx.SetBattleStatus(ctx, battle.ID, types.BattleCompleted); err != nil {
			return err
		}
		if err := s.applyRatings(ctx, tx, battle, vote, now); err != nil {
			return err
		}
		if err := s.applyAggregates(ctx, tx, battle, vote, now); err != nil {
			return err
		}

		preview, err := s.leaderboardPreview(ctx, tx)
		if err != nil {
			return err
		}
		resp = &VoteResponse{
			ProtocolVersion:    types.ProtocolVersion,
			Accepted:           true,
			VoteID:             vote.ID,
			LeaderboardPreview: preview,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Replays are accepted but only a freshly inserted vote counts.
	if inserted {
		s.votesReceived.Add(1)
	}
	s.logger.Debug("vote processed",
		zap.String("battle_id", req.BattleID),
		zap.String("vote_id", resp.VoteID),
		zap.String("result", string(req.Result)))
	return resp, nil
}

// replayResponse resolves a submission against an already-stored vote:
// identical payload from the same session is an idempotent success,
// a divergent payload from the same session is a conflict, any other
// session learns the battle is taken.
func (s *Service) replayResponse(ctx context.Context, tx storage.Tx, existing *types.Vote, sessionID, payloadHash string) (*VoteResponse, error) {
	if existing.SessionID == sessionID && existing.PayloadHash == payloadHash {
		preview, err := s.leaderboardPreview(ctx, tx)
		if err != nil {
			return nil, err
		}
		return &VoteResponse{
			ProtocolVersion:    types.ProtocolVersion,
			Accepted:           true,
			VoteID:             existing.ID,
			LeaderboardPreview: preview,
		}, nil
	}
	if existing.SessionID == sessionID {
		return nil, apierr.Conflict(apierr.CodeDuplicateVote, "a different vote was already recorded for this battle")
	}
	return nil, apierr.Conflict(apierr.CodeBattleAlreadyVoted, "battle was already voted on")
}

// applyRatings updates both generators' Glicko-2 state and, except for
// SKIP, records the rating event attributing the deltas to the vote.
func (s *Service) applyRatings(ctx context.Context, tx storage.Tx, battle *types.Battle, vote *types.Vote, now time.Time) error {
	left, err := s.ratingOrInitial(ctx, tx, battle.LeftGeneratorID)
	if err != nil {
		return err
	}
	right, err := s.ratingOrInitial(ctx, tx, battle.RightGeneratorID)
	if err != nil {
		return err
	}

	newLeft, newRight, deltaLeft, deltaRight, err := s.params.Rating.ApplyVote(
		rating.Glicko{Rating: left.Value, RD: left.RD, Volatility: left.Volatility},
		rating.Glicko{Rating: right.Value, RD: right.RD, Volatility: right.Volatility},
		vote.Result)
	if err != nil {
		return err
	}

	left.Value, left.RD, left.Volatility = newLeft.Rating, newLeft.RD, newLeft.Volatility
	right.Value, right.RD, right.Volatility = newRight.Rating, newRight.RD, newRight.Volatility
	bumpCounters(left, right, vote.Result)
	left.UpdatedAt, right.UpdatedAt = now, now

	if err := tx.UpsertRating(ctx, left); err != nil {
		return err
	}
	if err := tx.UpsertRating(ctx, right); err != nil {
		return err
	}

	if vote.Result == types.ResultSkip {
		return nil
	}
	return tx.InsertRatingEvent(ctx, &types.RatingEvent{
		ID:               "re_" + uuid.NewString(),
		VoteID:           vote.ID,
		BattleID:         battle.ID,
		LeftGeneratorID:  battle.LeftGeneratorID,
		RightGeneratorID: battle.RightGeneratorID,
		Result:           vote.Result,
		DeltaLeft:        deltaLeft,
		DeltaRight:       deltaRight,
		CreatedAt:        now,
	})
}

func (s *Service) ratingOrInitial(ctx context.Context, tx storage.Tx, generatorID string) (*types.Rating, error) {
	r, err := tx.GetRating(ctx, generatorID)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.Rating{
			GeneratorID: generatorID,
			Value:       s.params.Rating.InitialRating,
			RD:          s.params.Rating.InitialRD,
			Volatility:  s.params.Rating.InitialVolatility,
		}, nil
	}
	return r, err
}

// bumpCounters applies the outcome to both counter sets. SKIP counts as
// a played game for exposure accounting even though ratings stand.
func bumpCounters(left, right *types.Rating, result types.VoteResult) {
	left.GamesPlayed++
	right.GamesPlayed++
	switch result {
	case types.ResultLeft:
		left.Wins++
		right.Losses++
	case types.ResultRight:
		right.Wins++
		left.Losses++
	case types.ResultTie:
		left.Ties++
		right.Ties++
	case types.ResultSkip:
		left.Skips++
		right.Skips++
	}
}

// applyAggregates updates pair stats, both levels' stats, and the
// player profile inside the vote transaction.
func (s *Service) applyAggregates(ctx context.Context, tx storage.Tx, battle *types.Battle, vote *types.Vote, now time.Time) error {
	if err := tx.BumpPairStats(ctx, battle.LeftGeneratorID, battle.RightGeneratorID, vote.Result, now); err != nil {
		return err
	}

	var tel voteTelemetry
	// Best effort: aggregation-relevant fields only.
	_ = json.Unmarshal([]byte(vote.Telemetry), &tel)

	if err := bumpLevelStats(ctx, tx, battle.LeftLevelID, battle.LeftGeneratorID,
		sideOutcome(vote.Result, true), vote.LeftTags, tel.Left, now); err != nil {
		return err
	}
	if err := bumpLevelStats(ctx, tx, battle.RightLevelID, battle.RightGeneratorID,
		sideOutcome(vote.Result, false), vote.RightTags, tel.Right, now); err != nil {
		return err
	}

	return tx.TouchPlayerProfile(ctx, vote.PlayerID, now)
}

// sideOutcome maps a battle result onto one side's win/loss/tie/skip.
func sideOutcome(result types.VoteResult, isLeft bool) types.VoteResult {
	switch result {
	case types.ResultLeft:
		if isLeft {
			return types.ResultLeft // win for this side
		}
		return types.ResultRight
	case types.ResultRight:
		if isLeft {
			return types.ResultRight
		}
		return types.ResultLeft
	default:
		return result
	}
}

func bumpLevelStats(ctx context.Context, tx storage.Tx, levelID, generatorID string, outcome types.VoteResult, tags []string, tel sideTelemetry, now time.Time) error {
	stats, err := tx.GetLevelStats(ctx, levelID)
	if errors.Is(err, storage.ErrNotFound) {
		stats = &types.LevelStats{LevelID: levelID, GeneratorID: generatorID, TagCounts: map[string]int{}}
	} else if err != nil {
		return err
	}
	if stats.TagCounts == nil {
		stats.TagCounts = map[string]int{}
	}

	stats.TimesShown++
	switch outcome {
	case types.ResultLeft: // this side won
		stats.TimesWon++
	case types.ResultRight: // this side lost
		stats.TimesLost++
	case types.ResultTie:
		stats.TimesTied++
	case types.ResultSkip:
		stats.TimesSkipped++
	}
	if tel.Completed {
		stats.TimesCompleted++
	}
	stats.TotalDeaths += tel.Deaths
	stats.TotalPlaySecs += tel.PlayTimeSeconds
	for _, t := range tags {
		stats.TagCounts[t]++
	}
	stats.UpdatedAt = now
	return tx.UpsertLevelStats(ctx, stats)
}

// normalizeTelemetry re-encodes the raw telemetry with sorted keys so
// byte-identical semantics always hash identically. Missing telemetry
// normalizes to the empty object.
func normalizeTelemetry(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	if obj == nil {
		return "{}", nil
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// canonicalPayloadHash derives the idempotency key over the semantic
// payload: result, both tag lists in submitted order, and the
// normalized telemetry.
func canonicalPayloadHash(result types.VoteResult, leftTags, rightTags []string, telemetry string) string {
	if leftTags == nil {
		leftTags = []string{}
	}
	if rightTags == nil {
		rightTags = []string{}
	}
	payload := struct {
		LeftTags  []string        `json:"left_tags"`
		Result    string          `json:"result"`
		RightTags []string        `json:"right_tags"`
		Telemetry json.RawMessage `json:"telemetry"`
	}{leftTags, string(result), rightTags, json.RawMessage(telemetry)}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
