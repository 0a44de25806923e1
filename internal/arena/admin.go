package arena

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// SetGeneratorEnabled flips the active flag, controlling matchmaking
// eligibility and leaderboard visibility.
func (s *Service) SetGeneratorEnabled(ctx context.Context, id string, enabled bool) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.SetGeneratorActive(ctx, id, enabled)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.NotFound(apierr.CodeGeneratorNotFound, "generator not found")
	}
	if err != nil {
		return err
	}
	s.logger.Info("generator toggled", zap.String("generator_id", id), zap.Bool("enabled", enabled))
	return nil
}

// SeasonReset wipes every battle-derived table and re-seeds fresh
// rating rows for the surviving generators. Generators, levels, and
// accounts are untouched.
func (s *Service) SeasonReset(ctx context.Context) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.WipeSeasonData(ctx); err != nil {
			return err
		}
		gens, err := tx.ListGenerators(ctx, false)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, g := range gens {
			r := &types.Rating{
				GeneratorID: g.ID,
				Value:       s.params.Rating.InitialRating,
				RD:          s.params.Rating.InitialRD,
				Volatility:  s.params.Rating.InitialVolatility,
				UpdatedAt:   now,
			}
			if err := tx.UpsertRating(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("season reset: all battles, votes, and ratings wiped")
	return nil
}

// FlagSession marks a session as suspect without revoking it; flagged
// sessions can be excluded from analysis later.
func (s *Service) FlagSession(ctx context.Context, token string) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.FlagSession(ctx, token)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.NotFound(apierr.CodeNotFound, "session not found")
	}
	return err
}

// Backup snapshots the database to path via the store's online backup.
func (s *Service) Backup(ctx context.Context, path string) error {
	if err := s.store.BackupTo(ctx, path); err != nil {
		return err
	}
	s.logger.Info("database backup written", zap.String("path", path))
	return nil
}
