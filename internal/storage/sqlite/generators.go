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

const generatorColumns = `id, name, version, description, tags, documentation_url, is_active, owner_user_id, created_at, updated_at`

// UpsertGenerator inserts g or replaces its mutable metadata, keeping
// the original created_at on conflict.
func (d queries) UpsertGenerator(ctx context.Context, g *types.Generator) error {
	tags := g.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := marshalJSON(tags)
	if err != nil {
		return err
	}
	_, err = d.q.ExecContext(ctx, `
		INSERT INTO generators (`+generatorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			description = excluded.description,
			tags = excluded.tags,
			documentation_url = excluded.documentation_url,
			is_active = excluded.is_active,
			owner_user_id = excluded.owner_user_id,
			updated_at = excluded.updated_at
	`, g.ID, g.Name, g.Version, g.Description, tagsJSON, g.DocumentationURL,
		g.IsActive, g.OwnerUserID, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert generator %s: %w", g.ID, err)
	}
	return nil
}

// GetGenerator returns storage.ErrNotFound when id is unknown.
func (d queries) GetGenerator(ctx context.Context, id string) (*types.Generator, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT `+generatorColumns+` FROM generators WHERE id = ?
	`, id)
	g, err := scanGenerator(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generator %s: %w", id, err)
	}
	return g, nil
}

func (d queries) ListGenerators(ctx context.Context, activeOnly bool) ([]*types.Generator, error) {
	query := `SELECT ` + generatorColumns + ` FROM generators`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`
	return d.listGenerators(ctx, query)
}

func (d queries) ListGeneratorsByOwner(ctx context.Context, ownerUserID string, activeOnly bool) ([]*types.Generator, error) {
	query := `SELECT ` + generatorColumns + ` FROM generators WHERE owner_user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY id`
	return d.listGenerators(ctx, query, ownerUserID)
}

func (d queries) listGenerators(ctx context.Context, query string, args ...any) ([]*types.Generator, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list generators: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Generator
	for rows.Next() {
		g, err := scanGenerator(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generator: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGenerator(scan func(...any) error) (*types.Generator, error) {
	var g types.Generator
	var tagsJSON string
	if err := scan(&g.ID, &g.Name, &g.Version, &g.Description, &tagsJSON,
		&g.DocumentationURL, &g.IsActive, &g.OwnerUserID, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	tags, err := unmarshalStrings(tagsJSON)
	if err != nil {
		return nil, err
	}
	g.Tags = tags
	return &g, nil
}

func (d queries) SetGeneratorActive(ctx context.Context, id string, active bool) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE generators SET is_active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set generator active: %w", err)
	}
	return requireRow(res, id)
}

// SoftDeleteGenerator deactivates the generator, detaches its owner,
// and marks the name so leaderboard history stays readable.
func (d queries) SoftDeleteGenerator(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE generators
		SET is_active = 0, owner_user_id = '', name = name || ' [deleted]', updated_at = ?
		WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete generator: %w", err)
	}
	return requireRow(res, id)
}

// DeleteGenerator hard-deletes the generator row. Levels and the rating
// row must already be gone or the foreign keys reject it.
func (d queries) DeleteGenerator(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM generators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete generator: %w", err)
	}
	return requireRow(res, id)
}

// requireRow converts a zero-row UPDATE/DELETE into ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return nil
}
