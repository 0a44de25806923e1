package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/config"
	"github.com/pcgarena/arena/internal/storage/sqlite"
)

// seedDebounce coalesces the burst of fsnotify events a directory copy
// produces into a single re-import.
const seedDebounce = 2 * time.Second

// watchSeedDir re-imports the seed directory whenever its manifest or
// level files change, so operators can drop in new generators without
// a restart. Import failures are logged and the previous data stays
// live.
func watchSeedDir(ctx context.Context, store *sqlite.Store, cfg *config.Config, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(cfg.SeedDir); err != nil {
		return err
	}
	// Level files live one directory down; watch existing subtrees too.
	levelsDir := filepath.Join(cfg.SeedDir, "levels")
	_ = watcher.Add(levelsDir)

	var debounce *time.Timer
	reimport := func() {
		res, err := store.ImportSeed(ctx, cfg.SeedDir, initialRating(cfg))
		if err != nil {
			logger.Warn("seed re-import failed", zap.Error(err))
			return
		}
		logger.Info("seed re-imported",
			zap.Int("generators", res.Generators),
			zap.Int("levels_added", res.LevelsAdded))
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if name != "generators.json" && !strings.HasSuffix(name, ".txt") {
				// New generator directories need watching for their files.
				if event.Has(fsnotify.Create) {
					_ = watcher.Add(event.Name)
				}
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(seedDebounce, reimport)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("seed watcher error", zap.Error(werr))
		}
	}
}
