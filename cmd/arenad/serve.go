package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pcgarena/arena/internal/arena"
	"github.com/pcgarena/arena/internal/auth"
	"github.com/pcgarena/arena/internal/config"
	"github.com/pcgarena/arena/internal/httpapi"
	"github.com/pcgarena/arena/internal/mailer"
	"github.com/pcgarena/arena/internal/matchmaking"
	"github.com/pcgarena/arena/internal/rating"
	"github.com/pcgarena/arena/internal/storage/sqlite"
	"github.com/pcgarena/arena/internal/submit"
	"github.com/pcgarena/arena/internal/telemetry"
	"github.com/pcgarena/arena/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the arena server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// Open runs migrations; a failed migration aborts here.
		store, err := sqlite.Open(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Println("migrations up to date")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <dir>",
	Short: "Import a seed directory of generators and levels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := sqlite.Open(cmd.Context(), cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := store.ImportSeed(cmd.Context(), args[0], initialRating(cfg))
		if err != nil {
			return err
		}
		fmt.Printf("imported %d generators, %d levels added, %d already present\n",
			res.Generators, res.LevelsAdded, res.LevelsSkipped)
		return nil
	},
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func initialRating(cfg *config.Config) types.Rating {
	return types.Rating{
		Value:      cfg.InitialRating,
		RD:         cfg.InitialRD,
		Volatility: cfg.InitialVolatility,
		UpdatedAt:  time.Now().UTC(),
	}
}

func arenaParams(cfg *config.Config) arena.Params {
	ratingParams := rating.DefaultParams()
	ratingParams.InitialRating = cfg.InitialRating
	ratingParams.InitialRD = cfg.InitialRD
	ratingParams.InitialVolatility = cfg.InitialVolatility

	return arena.Params{
		Rating: ratingParams,
		Policy: cfg.MatchmakingPolicy,
		Matchmaking: matchmaking.Config{
			TargetBattlesPerPair:    cfg.TargetBattlesPerPair,
			SimilaritySigma:         cfg.SimilaritySigma,
			QualityBias:             cfg.QualityBias,
			MinGamesForSignificance: cfg.MinGamesSignificance,
		},
		SuggestedTimeLimit: cfg.SuggestedTimeLimit,
		MinClientVersion:   cfg.MinClientVersion,
	}
}

func buildMailer(cfg *config.Config, logger *zap.Logger) mailer.Mailer {
	if cfg.MailProviderURL == "" {
		return &mailer.LogMailer{Logger: logger}
	}
	return mailer.NewHTTP(cfg.MailProviderURL, cfg.MailProviderKey, cfg.MailFrom,
		15*time.Second, logger)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "arenad", Version, cfg.OTLPEndpoint); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	if cfg.SeedDir != "" {
		res, err := store.ImportSeed(ctx, cfg.SeedDir, initialRating(cfg))
		if err != nil {
			return fmt.Errorf("importing seed: %w", err)
		}
		logger.Info("seed imported",
			zap.Int("generators", res.Generators),
			zap.Int("levels_added", res.LevelsAdded),
			zap.Int("levels_skipped", res.LevelsSkipped))
	}

	arenaSvc := arena.NewService(store, arenaParams(cfg), logger)

	var verifier auth.IdentityVerifier
	if cfg.GoogleClientID != "" {
		verifier = auth.NewGoogleVerifier(cfg.GoogleClientID)
	}
	authSvc := auth.NewService(store, buildMailer(cfg, logger), auth.Params{
		BaseURL:     cfg.PublicURL,
		AdminEmails: cfg.AdminEmails,
		Verifier:    verifier,
	}, logger)

	submitSvc := submit.NewService(store, arenaParams(cfg).Rating, logger)

	server := httpapi.NewServer(arenaSvc, authSvc, submitSvc, store, httpapi.Options{
		CORSOrigins:      cfg.CORSOrigins,
		BattlesPerMinute: cfg.BattlesPerMinute,
		VotesPerMinute:   cfg.VotesPerMinute,
		AdminBearerKey:   cfg.AdminBearerKey,
		Version:          Version,
		SecureCookies:    strings.HasPrefix(cfg.PublicURL, "https://"),
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, cfg.Addr())
	})
	g.Go(func() error {
		return arenaSvc.RunSweeper(ctx, cfg.SweepInterval)
	})
	if cfg.SeedDir != "" {
		g.Go(func() error {
			return watchSeedDir(ctx, store, cfg, logger)
		})
	}

	logger.Info("arena server started",
		zap.String("addr", cfg.Addr()),
		zap.String("db", cfg.DBPath),
		zap.String("policy", cfg.MatchmakingPolicy))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("arena server stopped")
	return nil
}
