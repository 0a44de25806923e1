// Package submit implements the builder-facing generator pipeline:
// ZIP upload, level validation, quota enforcement, and the
// replace/soft-delete semantics for updates and deletions.
package submit

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const (
	MaxZipBytes         = 10 << 20
	MinLevels           = 50
	MaxLevels           = 200
	MaxActiveGenerators = 3

	// maxUncompressedLevel bounds a single decompressed entry; well
	// above any legal tilemap but safe against zip bombs.
	maxUncompressedLevel = 1 << 20
)

var generatorIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,31}$`)

// Service owns generator submissions.
type Service struct {
	store  storage.Store
	rating rating.Params
	logger *zap.Logger
}

func NewService(store storage.Store, ratingParams rating.Params, logger *zap.Logger) *Service {
	return &Service{store: store, rating: ratingParams, logger: logger}
}

// UploadRequest carries the multipart fields plus the raw archive.
type UploadRequest struct {
	OwnerUserID      string
	GeneratorID      string
	Name             string
	Version          string
	Description      string
	DocumentationURL string
	ZipData          []byte
}

// UploadResult reports what a create or update persisted.
type UploadResult struct {
	ProtocolVersion string `json:"protocol_version"`
	GeneratorID     string `json:"generator_id"`
	LevelCount      int    `json:"level_count"`
	Replaced        bool   `json:"replaced"`
	SoftDeleted     int    `json:"soft_deleted_levels"`
}

// Create registers a new generator from a ZIP of levels.
func (s *Service) Create(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !generatorIDPattern.MatchString(req.GeneratorID) {
		return nil, apierr.Invalid(apierr.CodeInvalidGeneratorID,
			"generator id must be 3-32 characters, start with a letter, and use only letters, digits, '_' and '-'")
	}
	levels, err := extractLevels(req.ZipData)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &UploadResult{ProtocolVersion: types.ProtocolVersion, GeneratorID: req.GeneratorID}
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		active, err := tx.ListGeneratorsByOwner(ctx, req.OwnerUserID, true)
		if err != nil {
			return err
		}
		if len(active) >= MaxActiveGenerators {
			return apierr.Conflict(apierr.CodeMaxGenerators,
				fmt.Sprintf("at most %d active generators per account", MaxActiveGenerators))
		}
		if _, err := tx.GetGenerator(ctx, req.GeneratorID); err == nil {
			return apierr.Conflict(apierr.CodeGeneratorIDExists,
				fmt.Sprintf("generator id %q is taken", req.GeneratorID))
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		gen := &types.Generator{
			ID:               req.GeneratorID,
			Name:             orDefault(req.Name, req.GeneratorID),
			Version:          orDefault(req.Version, "1.0.0"),
			Description:      req.Description,
			DocumentationURL: req.DocumentationURL,
			IsActive:         true,
			OwnerUserID:      req.OwnerUserID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.UpsertGenerator(ctx, gen); err != nil {
			return err
		}
		if err := insertLevels(ctx, tx, gen.ID, levels, now); err != nil {
			return err
		}
		return tx.UpsertRating(ctx, &types.Rating{
			GeneratorID: gen.ID,
			Value:       s.rating.InitialRating,
			RD:          s.rating.InitialRD,
			Volatility:  s.rating.InitialVolatility,
			UpdatedAt:   now,
		})
	})
	if err != nil {
		return nil, apierr.From(err)
	}

	result.LevelCount = len(levels)
	s.logger.Info("generator created",
		zap.String("generator", req.GeneratorID),
		zap.String("owner", req.OwnerUserID),
		zap.Int("levels", len(levels)))
	return result, nil
}

// Update replaces a generator's level set. Old levels referenced by a
// battle are soft-deleted so historical battles stay resolvable;
// unreferenced ones are removed. The rating row is untouched.
func (s *Service) Update(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	levels, err := extractLevels(req.ZipData)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result := &UploadResult{ProtocolVersion: types.ProtocolVersion, GeneratorID: req.GeneratorID, Replaced: true}
	err = s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		gen, err := s.ownedGenerator(ctx, tx, req.OwnerUserID, req.GeneratorID)
		if err != nil {
			return err
		}

		old, err := tx.ListLevelsByGenerator(ctx, gen.ID, false)
		if err != nil {
			return err
		}
		for _, lvl := range old {
			referenced, err := tx.LevelHasBattles(ctx, lvl.ID)
			if err != nil {
				return err
			}
			if referenced {
				if lvl.IsActive {
					if err := tx.SoftDeleteLevel(ctx, lvl.ID); err != nil {
						return err
					}
				}
				result.SoftDeleted++
			} else if err := tx.DeleteLevel(ctx, lvl.ID); err != nil {
				return err
			}
		}
		if err := insertLevels(ctx, tx, gen.ID, levels, now); err != nil {
			return err
		}

		if req.Name != "" {
			gen.Name = req.Name
		}
		if req.Version != "" {
			gen.Version = req.Version
		}
		if req.Description != "" {
			gen.Description = req.Description
		}
		if req.DocumentationURL != "" {
			gen.DocumentationURL = req.DocumentationURL
		}
		gen.UpdatedAt = now
		return tx.UpsertGenerator(ctx, gen)
	})
	if err != nil {
		return nil, apierr.From(err)
	}

	result.LevelCount = len(levels)
	s.logger.Info("generator updated",
		zap.String("generator", req.GeneratorID),
		zap.Int("levels", len(levels)),
		zap.Int("soft_deleted", result.SoftDeleted))
	return result, nil
}

// Delete removes a generator. With battle history it is soft-deleted
// (inactive, disowned, renamed); otherwise it is removed outright
// along with its levels and rating.
func (s *Service) Delete(ctx context.Context, ownerUserID, generatorID string) error {
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		gen, err := s.ownedGenerator(ctx, tx, ownerUserID, generatorID)
		if err != nil {
			return err
		}

		referenced, err := tx.GeneratorHasBattles(ctx, gen.ID)
		if err != nil {
			return err
		}
		if referenced {
			return tx.SoftDeleteGenerator(ctx, gen.ID)
		}

		all, err := tx.ListLevelsByGenerator(ctx, gen.ID, false)
		if err != nil {
			return err
		}
		for _, lvl := range all {
			if err := tx.DeleteLevel(ctx, lvl.ID); err != nil {
				return err
			}
		}
		if err := tx.DeleteRating(ctx, gen.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return tx.DeleteGenerator(ctx, gen.ID)
	})
	if err != nil {
		return apierr.From(err)
	}
	s.logger.Info("generator deleted", zap.String("generator", generatorID))
	return nil
}

// ListOwned returns the caller's generators, including inactive ones.
func (s *Service) ListOwned(ctx context.Context, ownerUserID string) ([]*types.Generator, error) {
	gens, err := s.store.ListGeneratorsByOwner(ctx, ownerUserID, false)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return gens, nil
}

func (s *Service) ownedGenerator(ctx context.Context, tx storage.Tx, ownerUserID, generatorID string) (*types.Generator, error) {
	gen, err := tx.GetGenerator(ctx, generatorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierr.NotFound(apierr.CodeGeneratorNotFound,
			fmt.Sprintf("generator %q not found", generatorID))
	} else if err != nil {
		return nil, err
	}
	if gen.OwnerUserID == "" || gen.OwnerUserID != ownerUserID {
		return nil, apierr.Forbidden(apierr.CodeNotOwner, "generator belongs to another account")
	}
	return gen, nil
}

// extractedLevel is one validated tilemap from the archive.
type extractedLevel struct {
	filename    string
	canonical   string
	width       int
	contentHash string
}

// extractLevels opens the archive and validates every .txt entry.
// Directories, macOS resource forks, and hidden files are skipped;
// any invalid level fails the whole upload with the offending file
// named in the error details.
func extractLevels(zipData []byte) ([]extractedLevel, error) {
	if len(zipData) == 0 {
		return nil, apierr.Invalid(apierr.CodeInvalidZip, "archive is empty")
	}
	if len(zipData) > MaxZipBytes {
		return nil, apierr.Invalid(apierr.CodeZipTooLarge,
			fmt.Sprintf("archive exceeds %d bytes", MaxZipBytes))
	}
	reader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, apierr.Invalid(apierr.CodeInvalidZip, "archive is not a valid ZIP file")
	}

	var levels []extractedLevel
	seen := make(map[string]string) // content hash -> first filename
	for _, f := range reader.File {
		if skipEntry(f.Name) {
			continue
		}
		body, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		canonical, width, err := types.ValidateTilemap(string(body), f.Name)
		if err != nil {
			return nil, apierr.Invalid(apierr.CodeLevelValidation, "level validation failed").
				WithDetails(map[string]string{"file": f.Name, "reason": err.Error()})
		}
		hash := types.ContentHash(canonical)
		if first, dup := seen[hash]; dup {
			return nil, apierr.Invalid(apierr.CodeLevelValidation, "level validation failed").
				WithDetails(map[string]string{"file": f.Name, "reason": "duplicate of " + first})
		}
		seen[hash] = f.Name
		levels = append(levels, extractedLevel{
			filename:    f.Name,
			canonical:   canonical,
			width:       width,
			contentHash: hash,
		})
	}

	if len(levels) < MinLevels {
		return nil, apierr.Invalid(apierr.CodeNotEnoughLevels,
			fmt.Sprintf("archive holds %d valid levels, need at least %d", len(levels), MinLevels))
	}
	if len(levels) > MaxLevels {
		return nil, apierr.Invalid(apierr.CodeTooManyLevels,
			fmt.Sprintf("archive holds %d levels, at most %d allowed", len(levels), MaxLevels))
	}

	// Stable order regardless of how the archive was packed.
	sort.Slice(levels, func(i, j int) bool { return levels[i].filename < levels[j].filename })
	return levels, nil
}

func skipEntry(name string) bool {
	if strings.HasSuffix(name, "/") {
		return true
	}
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return !strings.HasSuffix(strings.ToLower(base), ".txt")
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxUncompressedLevel {
		return nil, apierr.Invalid(apierr.CodeLevelValidation, "level validation failed").
			WithDetails(map[string]string{"file": f.Name, "reason": "file too large"})
	}
	rc, err := f.Open()
	if err != nil {
		return nil, apierr.Invalid(apierr.CodeInvalidZip, "archive entry unreadable").
			WithDetails(map[string]string{"file": f.Name})
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxUncompressedLevel+1))
	if err != nil {
		return nil, apierr.Invalid(apierr.CodeInvalidZip, "archive entry unreadable").
			WithDetails(map[string]string{"file": f.Name})
	}
	if len(body) > maxUncompressedLevel {
		return nil, apierr.Invalid(apierr.CodeLevelValidation, "level validation failed").
			WithDetails(map[string]string{"file": f.Name, "reason": "file too large"})
	}
	return body, nil
}

func insertLevels(ctx context.Context, tx storage.Tx, generatorID string, levels []extractedLevel, now time.Time) error {
	for _, lvl := range levels {
		err := tx.InsertLevel(ctx, &types.Level{
			ID:          "lvl_" + uuid.NewString(),
			GeneratorID: generatorID,
			Format:      types.FormatASCIITilemap,
			Width:       lvl.width,
			Height:      types.LevelHeight,
			Tilemap:     lvl.canonical,
			ContentHash: lvl.contentHash,
			IsActive:    true,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
