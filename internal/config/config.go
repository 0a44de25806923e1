// Package config loads server configuration from an optional YAML
// file plus ARENA_* environment variables, env taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the server needs at startup.
type Config struct {
	// Bind address and public identity.
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"`
	Debug     bool   `mapstructure:"debug"`

	// Storage.
	DBPath  string `mapstructure:"db_path"`
	SeedDir string `mapstructure:"seed_dir"`

	// Rating system.
	InitialRating     float64 `mapstructure:"initial_rating"`
	InitialRD         float64 `mapstructure:"initial_rd"`
	InitialVolatility float64 `mapstructure:"initial_volatility"`

	// Matchmaking.
	MatchmakingPolicy    string  `mapstructure:"matchmaking_policy"`
	TargetBattlesPerPair int     `mapstructure:"target_battles_per_pair"`
	SimilaritySigma      float64 `mapstructure:"similarity_sigma"`
	QualityBias          float64 `mapstructure:"quality_bias"`
	MinGamesSignificance int     `mapstructure:"min_games_for_significance"`

	// Battle pacing.
	SuggestedTimeLimit time.Duration `mapstructure:"suggested_time_limit"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	MinClientVersion   string        `mapstructure:"min_client_version"`

	// HTTP surface.
	CORSOrigins      []string `mapstructure:"cors_origins"`
	BattlesPerMinute int      `mapstructure:"battles_per_minute"`
	VotesPerMinute   int      `mapstructure:"votes_per_minute"`

	// Auth and admin.
	AdminBearerKey string   `mapstructure:"admin_bearer_key"`
	AdminEmails    []string `mapstructure:"admin_emails"`
	GoogleClientID string   `mapstructure:"google_client_id"`

	// Outbound email.
	MailProviderURL string `mapstructure:"mail_provider_url"`
	MailProviderKey string `mapstructure:"mail_provider_key"`
	MailFrom        string `mapstructure:"mail_from"`

	// Telemetry.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads the optional config file (arena.yaml in cwd or the path
// given) and applies ARENA_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("arena")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; env and defaults carry everything.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("debug", false)

	v.SetDefault("db_path", "arena.db")
	v.SetDefault("seed_dir", "")

	v.SetDefault("initial_rating", 1000.0)
	v.SetDefault("initial_rd", 350.0)
	v.SetDefault("initial_volatility", 0.06)

	v.SetDefault("matchmaking_policy", "agis_v1")
	v.SetDefault("target_battles_per_pair", 10)
	v.SetDefault("similarity_sigma", 150.0)
	v.SetDefault("quality_bias", 0.2)
	v.SetDefault("min_games_for_significance", 30)

	v.SetDefault("suggested_time_limit", 5*time.Minute)
	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("min_client_version", "0.1.0")

	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("battles_per_minute", 10)
	v.SetDefault("votes_per_minute", 20)

	v.SetDefault("admin_bearer_key", "")
	v.SetDefault("admin_emails", []string{})
	v.SetDefault("google_client_id", "")

	v.SetDefault("mail_provider_url", "")
	v.SetDefault("mail_provider_key", "")
	v.SetDefault("mail_from", "no-reply@pcgarena.dev")

	v.SetDefault("otlp_endpoint", "")
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.MatchmakingPolicy {
	case "uniform_v0", "agis_v1":
	default:
		return fmt.Errorf("unknown matchmaking policy %q", c.MatchmakingPolicy)
	}
	if c.InitialRD <= 0 || c.InitialRating <= 0 || c.InitialVolatility <= 0 {
		return fmt.Errorf("rating parameters must be positive")
	}
	if c.TargetBattlesPerPair < 1 {
		return fmt.Errorf("target_battles_per_pair must be at least 1")
	}
	if c.SuggestedTimeLimit < time.Second {
		return fmt.Errorf("suggested_time_limit too small")
	}
	return nil
}

// Addr is the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
