package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// seedManifest mirrors generators.json at the seed directory root.
type seedManifest struct {
	Generators []seedGenerator `json:"generators"`
}

type seedGenerator struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	DocumentationURL string   `json:"documentation_url"`
}

// SeedResult summarizes one seed import run.
type SeedResult struct {
	Generators    int
	LevelsAdded   int
	LevelsSkipped int // already present by content hash
}

// ImportSeed loads the seed directory into the database: upserts every
// generator in generators.json, imports its level files from
// levels/<generator_id>/*.txt, and creates missing rating rows with the
// given initial values. Levels whose content hash is already stored for
// the generator are skipped, so re-running is idempotent. Any invalid
// level file fails the whole import.
func (s *Store) ImportSeed(ctx context.Context, seedDir string, initial types.Rating) (*SeedResult, error) {
	manifestPath := filepath.Join(seedDir, "generators.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed manifest: %w", err)
	}
	var manifest seedManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse seed manifest: %w", err)
	}

	result := &SeedResult{}
	err = s.RunInTransaction(ctx, func(tx storage.Tx) error {
		now := time.Now().UTC()
		for _, sg := range manifest.Generators {
			if sg.ID == "" {
				return fmt.Errorf("seed manifest entry missing id")
			}
			gen := &types.Generator{
				ID:               sg.ID,
				Name:             sg.Name,
				Version:          sg.Version,
				Description:      sg.Description,
				Tags:             sg.Tags,
				DocumentationURL: sg.DocumentationURL,
				IsActive:         true,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if gen.Name == "" {
				gen.Name = sg.ID
			}
			if err := tx.UpsertGenerator(ctx, gen); err != nil {
				return err
			}
			result.Generators++

			added, skipped, err := importSeedLevels(ctx, tx, seedDir, sg.ID, now)
			if err != nil {
				return err
			}
			result.LevelsAdded += added
			result.LevelsSkipped += skipped

			if _, err := tx.GetRating(ctx, sg.ID); err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				r := initial
				r.GeneratorID = sg.ID
				r.UpdatedAt = now
				if err := tx.UpsertRating(ctx, &r); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func importSeedLevels(ctx context.Context, tx storage.Tx, seedDir, generatorID string, now time.Time) (added, skipped int, err error) {
	levelDir := filepath.Join(seedDir, "levels", generatorID)
	entries, err := os.ReadDir(levelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read seed levels for %s: %w", generatorID, err)
	}

	existing, err := tx.ListLevelsByGenerator(ctx, generatorID, false)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, l := range existing {
		seen[l.ContentHash] = true
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(levelDir, name))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read seed level %s/%s: %w", generatorID, name, err)
		}
		canonical, width, verr := types.ValidateTilemap(string(raw), name)
		if verr != nil {
			return 0, 0, fmt.Errorf("seed level %s/%s: %w", generatorID, name, verr)
		}
		hash := types.ContentHash(canonical)
		if seen[hash] {
			skipped++
			continue
		}
		seen[hash] = true
		level := &types.Level{
			ID:          "lvl_" + uuid.NewString(),
			GeneratorID: generatorID,
			Format:      types.FormatASCIITilemap,
			Width:       width,
			Height:      types.LevelHeight,
			Tilemap:     canonical,
			ContentHash: hash,
			IsActive:    true,
			CreatedAt:   now,
		}
		if err := tx.InsertLevel(ctx, level); err != nil {
			return 0, 0, err
		}
		added++
	}
	return added, skipped, nil
}
