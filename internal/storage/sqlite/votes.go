package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const voteColumns = `id, battle_id, session_id, player_id, result, left_tags, right_tags, telemetry, payload_hash, created_at`

// InsertVote relies on the UNIQUE(battle_id) constraint to enforce at
// most one vote per battle; callers translate the violation into the
// replay/conflict decision.
func (d queries) InsertVote(ctx context.Context, v *types.Vote) error {
	leftTags := v.LeftTags
	if leftTags == nil {
		leftTags = []string{}
	}
	rightTags := v.RightTags
	if rightTags == nil {
		rightTags = []string{}
	}
	leftJSON, err := marshalJSON(leftTags)
	if err != nil {
		return err
	}
	rightJSON, err := marshalJSON(rightTags)
	if err != nil {
		return err
	}
	telemetry := v.Telemetry
	if telemetry == "" {
		telemetry = "{}"
	}
	_, err = d.q.ExecContext(ctx, `
		INSERT INTO votes (`+voteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.BattleID, v.SessionID, v.PlayerID, v.Result,
		leftJSON, rightJSON, telemetry, v.PayloadHash, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vote for battle %s: %w", v.BattleID, err)
	}
	return nil
}

func (d queries) GetVoteByBattle(ctx context.Context, battleID string) (*types.Vote, error) {
	var v types.Vote
	var leftJSON, rightJSON string
	err := d.q.QueryRowContext(ctx, `
		SELECT `+voteColumns+` FROM votes WHERE battle_id = ?
	`, battleID).Scan(&v.ID, &v.BattleID, &v.SessionID, &v.PlayerID, &v.Result,
		&leftJSON, &rightJSON, &v.Telemetry, &v.PayloadHash, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote for battle %s: %w", battleID, err)
	}
	if v.LeftTags, err = unmarshalStrings(leftJSON); err != nil {
		return nil, err
	}
	if v.RightTags, err = unmarshalStrings(rightJSON); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d queries) CountVotes(ctx context.Context) (int, error) {
	var n int
	if err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}

func (d queries) InsertRatingEvent(ctx context.Context, e *types.RatingEvent) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO rating_events (id, vote_id, battle_id, left_generator_id, right_generator_id, result, delta_left, delta_right, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.VoteID, e.BattleID, e.LeftGeneratorID, e.RightGeneratorID,
		e.Result, e.DeltaLeft, e.DeltaRight, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rating event for vote %s: %w", e.VoteID, err)
	}
	return nil
}
