package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const levelColumns = `id, generator_id, format, width, height, tilemap, content_hash, is_active, created_at`

func (d queries) InsertLevel(ctx context.Context, l *types.Level) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO levels (`+levelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.GeneratorID, l.Format, l.Width, l.Height, l.Tilemap,
		l.ContentHash, l.IsActive, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert level %s: %w", l.ID, err)
	}
	return nil
}

func (d queries) GetLevel(ctx context.Context, id string) (*types.Level, error) {
	var l types.Level
	err := d.q.QueryRowContext(ctx, `
		SELECT `+levelColumns+` FROM levels WHERE id = ?
	`, id).Scan(&l.ID, &l.GeneratorID, &l.Format, &l.Width, &l.Height,
		&l.Tilemap, &l.ContentHash, &l.IsActive, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get level %s: %w", id, err)
	}
	return &l, nil
}

func (d queries) ListActiveLevelIDs(ctx context.Context, generatorID string) ([]string, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id FROM levels WHERE generator_id = ? AND is_active = 1 ORDER BY id
	`, generatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list level ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d queries) CountActiveLevels(ctx context.Context, generatorID string) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM levels WHERE generator_id = ? AND is_active = 1
	`, generatorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count levels: %w", err)
	}
	return n, nil
}

func (d queries) ListLevelsByGenerator(ctx context.Context, generatorID string, activeOnly bool) ([]*types.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM levels WHERE generator_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY id`
	rows, err := d.q.QueryContext(ctx, query, generatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Level
	for rows.Next() {
		var l types.Level
		if err := rows.Scan(&l.ID, &l.GeneratorID, &l.Format, &l.Width, &l.Height,
			&l.Tilemap, &l.ContentHash, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// LevelHasBattles reports whether any battle references the level on
// either side, which forces soft deletion.
func (d queries) LevelHasBattles(ctx context.Context, levelID string) (bool, error) {
	var exists bool
	err := d.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM battles WHERE left_level_id = ? OR right_level_id = ?)
	`, levelID, levelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check level battles: %w", err)
	}
	return exists, nil
}

func (d queries) GeneratorHasBattles(ctx context.Context, generatorID string) (bool, error) {
	var exists bool
	err := d.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM battles WHERE left_generator_id = ? OR right_generator_id = ?)
	`, generatorID, generatorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check generator battles: %w", err)
	}
	return exists, nil
}

func (d queries) SoftDeleteLevel(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `UPDATE levels SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete level: %w", err)
	}
	return requireRow(res, id)
}

func (d queries) DeleteLevel(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM levels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete level: %w", err)
	}
	return requireRow(res, id)
}
