package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pcgarena/arena/internal/storage"
)

var _ storage.Tx = (*txHandle)(nil)

// txHandle implements storage.Tx over a dedicated connection holding an
// open IMMEDIATE transaction.
type txHandle struct {
	queries
}

// RunInTransaction executes fn within a write transaction.
//
// The transaction uses BEGIN IMMEDIATE to take the write lock up front,
// so concurrent writers serialize at BEGIN instead of deadlocking at
// their first write. Commit on nil return; rollback on error or panic.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	// A dedicated connection keeps BEGIN/COMMIT and every statement of
	// fn on the same underlying SQLite handle.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback runs even when ctx is
			// already cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txHandle{queries{q: conn}}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying with
// exponential backoff when another writer holds the lock past
// busy_timeout.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, baseDelay time.Duration) error {
	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
