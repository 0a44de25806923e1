package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Conn.
// Store methods run auto-commit on the pool; transaction methods run on
// the dedicated connection holding the open IMMEDIATE transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries the entity read/write methods shared between the
// store and transaction handles.
type queries struct {
	q dbtx
}

// marshalJSON encodes v for a TEXT column, mapping nil slices/maps to
// their empty JSON literal so columns never hold SQL NULL.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return out, nil
}
