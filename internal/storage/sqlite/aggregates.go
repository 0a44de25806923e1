package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// GetPairCounts returns the battle count per unordered generator pair,
// the snapshot the matchmaker's coverage pass runs over.
func (d queries) GetPairCounts(ctx context.Context) (map[[2]string]int, error) {
	rows, err := d.q.QueryContext(ctx, `SELECT gen1_id, gen2_id, battle_count FROM pair_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pair counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[[2]string]int)
	for rows.Next() {
		var g1, g2 string
		var n int
		if err := rows.Scan(&g1, &g2, &n); err != nil {
			return nil, err
		}
		counts[[2]string{g1, g2}] = n
	}
	return counts, rows.Err()
}

func (d queries) GetPairStats(ctx context.Context) ([]*types.PairStats, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT gen1_id, gen2_id, battle_count, gen1_wins, gen2_wins, ties, skips, last_battle_at
		FROM pair_stats ORDER BY gen1_id, gen2_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pair stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.PairStats
	for rows.Next() {
		var p types.PairStats
		if err := rows.Scan(&p.Gen1ID, &p.Gen2ID, &p.BattleCount,
			&p.Gen1Wins, &p.Gen2Wins, &p.Ties, &p.Skips, &p.LastBattle); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// BumpPairStats applies one vote outcome to the pair's aggregate row.
// gen1 and gen2 are the battle's left and right generators in any
// order; the row is keyed canonically and the win column follows.
func (d queries) BumpPairStats(ctx context.Context, gen1, gen2 string, result types.VoteResult, at time.Time) error {
	k1, k2 := types.PairKey(gen1, gen2)

	var win1, win2, ties, skips int
	switch result {
	case types.ResultLeft:
		if gen1 == k1 {
			win1 = 1
		} else {
			win2 = 1
		}
	case types.ResultRight:
		if gen2 == k1 {
			win1 = 1
		} else {
			win2 = 1
		}
	case types.ResultTie:
		ties = 1
	case types.ResultSkip:
		skips = 1
	default:
		return fmt.Errorf("invalid vote result %q", result)
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO pair_stats (gen1_id, gen2_id, battle_count, gen1_wins, gen2_wins, ties, skips, last_battle_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(gen1_id, gen2_id) DO UPDATE SET
			battle_count = battle_count + 1,
			gen1_wins = gen1_wins + excluded.gen1_wins,
			gen2_wins = gen2_wins + excluded.gen2_wins,
			ties = ties + excluded.ties,
			skips = skips + excluded.skips,
			last_battle_at = excluded.last_battle_at
	`, k1, k2, win1, win2, ties, skips, at)
	if err != nil {
		return fmt.Errorf("failed to bump pair stats for (%s,%s): %w", k1, k2, err)
	}
	return nil
}

func (d queries) GetLevelStats(ctx context.Context, levelID string) (*types.LevelStats, error) {
	var s types.LevelStats
	var tagJSON string
	err := d.q.QueryRowContext(ctx, `
		SELECT level_id, generator_id, times_shown, times_won, times_lost, times_tied,
		       times_skipped, times_completed, total_deaths, total_play_secs, tag_counts, updated_at
		FROM level_stats WHERE level_id = ?
	`, levelID).Scan(&s.LevelID, &s.GeneratorID, &s.TimesShown, &s.TimesWon,
		&s.TimesLost, &s.TimesTied, &s.TimesSkipped, &s.TimesCompleted,
		&s.TotalDeaths, &s.TotalPlaySecs, &tagJSON, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get level stats for %s: %w", levelID, err)
	}
	if tagJSON != "" && tagJSON != "null" {
		if err := json.Unmarshal([]byte(tagJSON), &s.TagCounts); err != nil {
			return nil, fmt.Errorf("failed to decode tag counts: %w", err)
		}
	}
	return &s, nil
}

func (d queries) UpsertLevelStats(ctx context.Context, s *types.LevelStats) error {
	tagCounts := s.TagCounts
	if tagCounts == nil {
		tagCounts = map[string]int{}
	}
	tagJSON, err := marshalJSON(tagCounts)
	if err != nil {
		return err
	}
	_, err = d.q.ExecContext(ctx, `
		INSERT INTO level_stats (level_id, generator_id, times_shown, times_won, times_lost, times_tied,
		                         times_skipped, times_completed, total_deaths, total_play_secs, tag_counts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(level_id) DO UPDATE SET
			times_shown = excluded.times_shown,
			times_won = excluded.times_won,
			times_lost = excluded.times_lost,
			times_tied = excluded.times_tied,
			times_skipped = excluded.times_skipped,
			times_completed = excluded.times_completed,
			total_deaths = excluded.total_deaths,
			total_play_secs = excluded.total_play_secs,
			tag_counts = excluded.tag_counts,
			updated_at = excluded.updated_at
	`, s.LevelID, s.GeneratorID, s.TimesShown, s.TimesWon, s.TimesLost, s.TimesTied,
		s.TimesSkipped, s.TimesCompleted, s.TotalDeaths, s.TotalPlaySecs, tagJSON, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert level stats for %s: %w", s.LevelID, err)
	}
	return nil
}

func (d queries) TouchPlayerProfile(ctx context.Context, playerID string, at time.Time) error {
	if playerID == "" {
		return nil
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO player_profiles (player_id, total_votes, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			total_votes = total_votes + 1,
			last_seen = excluded.last_seen
	`, playerID, at, at)
	if err != nil {
		return fmt.Errorf("failed to touch player profile %s: %w", playerID, err)
	}
	return nil
}

func (d queries) CountPlayerProfiles(ctx context.Context) (int, error) {
	var n int
	if err := d.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count player profiles: %w", err)
	}
	return n, nil
}
