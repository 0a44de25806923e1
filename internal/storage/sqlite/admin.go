package sqlite

import (
	"context"
	"fmt"
)

// WipeSeasonData clears battle-derived state in dependency order so
// foreign keys never trip. Generators, levels, and accounts survive.
func (d queries) WipeSeasonData(ctx context.Context) error {
	for _, table := range []string{
		"rating_events",
		"votes",
		"battles",
		"pair_stats",
		"level_stats",
		"ratings",
	} {
		if _, err := d.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}
	return nil
}
