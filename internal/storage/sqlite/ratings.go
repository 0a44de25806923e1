package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const ratingColumns = `generator_id, rating, rd, volatility, games_played, wins, losses, ties, skips, updated_at`

func (d queries) GetRating(ctx context.Context, generatorID string) (*types.Rating, error) {
	var r types.Rating
	err := d.q.QueryRowContext(ctx, `
		SELECT `+ratingColumns+` FROM ratings WHERE generator_id = ?
	`, generatorID).Scan(&r.GeneratorID, &r.Value, &r.RD, &r.Volatility,
		&r.GamesPlayed, &r.Wins, &r.Losses, &r.Ties, &r.Skips, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating for %s: %w", generatorID, err)
	}
	return &r, nil
}

func (d queries) UpsertRating(ctx context.Context, r *types.Rating) error {
	if err := r.CheckCounters(); err != nil {
		return err
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO ratings (`+ratingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generator_id) DO UPDATE SET
			rating = excluded.rating,
			rd = excluded.rd,
			volatility = excluded.volatility,
			games_played = excluded.games_played,
			wins = excluded.wins,
			losses = excluded.losses,
			ties = excluded.ties,
			skips = excluded.skips,
			updated_at = excluded.updated_at
	`, r.GeneratorID, r.Value, r.RD, r.Volatility,
		r.GamesPlayed, r.Wins, r.Losses, r.Ties, r.Skips, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rating for %s: %w", r.GeneratorID, err)
	}
	return nil
}

func (d queries) ListRatings(ctx context.Context) ([]*types.Rating, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+ratingColumns+` FROM ratings ORDER BY rating DESC, generator_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Rating
	for rows.Next() {
		var r types.Rating
		if err := rows.Scan(&r.GeneratorID, &r.Value, &r.RD, &r.Volatility,
			&r.GamesPlayed, &r.Wins, &r.Losses, &r.Ties, &r.Skips, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (d queries) DeleteRating(ctx context.Context, generatorID string) error {
	_, err := d.q.ExecContext(ctx, `DELETE FROM ratings WHERE generator_id = ?`, generatorID)
	if err != nil {
		return fmt.Errorf("failed to delete rating for %s: %w", generatorID, err)
	}
	return nil
}
