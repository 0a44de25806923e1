package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const battleColumns = `id, session_id, status, left_level_id, right_level_id, left_generator_id, right_generator_id, policy, issued_at, expires_at`

func (d queries) InsertBattle(ctx context.Context, b *types.Battle) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO battles (`+battleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.SessionID, b.Status, b.LeftLevelID, b.RightLevelID,
		b.LeftGeneratorID, b.RightGeneratorID, b.Policy, b.IssuedAt, b.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert battle %s: %w", b.ID, err)
	}
	return nil
}

func (d queries) GetBattle(ctx context.Context, id string) (*types.Battle, error) {
	var b types.Battle
	err := d.q.QueryRowContext(ctx, `
		SELECT `+battleColumns+` FROM battles WHERE id = ?
	`, id).Scan(&b.ID, &b.SessionID, &b.Status, &b.LeftLevelID, &b.RightLevelID,
		&b.LeftGeneratorID, &b.RightGeneratorID, &b.Policy, &b.IssuedAt, &b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get battle %s: %w", id, err)
	}
	return &b, nil
}

func (d queries) SetBattleStatus(ctx context.Context, id string, status types.BattleStatus) error {
	res, err := d.q.ExecContext(ctx, `UPDATE battles SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set battle status: %w", err)
	}
	return requireRow(res, id)
}

// ExpireBattlesBefore moves every ISSUED battle whose expiry has passed
// to EXPIRED and returns how many rows changed.
func (d queries) ExpireBattlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE battles SET status = ? WHERE status = ? AND expires_at < ?
	`, types.BattleExpired, types.BattleIssued, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire battles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

func (d queries) CountBattles(ctx context.Context) (int, error) {
	var n int
	if err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM battles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count battles: %w", err)
	}
	return n, nil
}
