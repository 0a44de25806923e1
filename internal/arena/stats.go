package arena

import (
	"context"
	"errors"
	"time"

	"github.com/pcgarena/arena/internal/apierr"
	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

// LeaderboardEntry is one ranked generator row.
type LeaderboardEntry struct {
	Rank             int     `json:"rank"`
	GeneratorID      string  `json:"generator_id"`
	Name             string  `json:"name"`
	Version          string  `json:"version"`
	DocumentationURL string  `json:"documentation_url,omitempty"`
	Rating           float64 `json:"rating"`
	GamesPlayed      int     `json:"games_played"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	Ties             int     `json:"ties"`
	Skips            int     `json:"skips"`
}

// Leaderboard is the body of GET /v1/leaderboard.
type Leaderboard struct {
	ProtocolVersion   string              `json:"protocol_version"`
	UpdatedAtUTC      string              `json:"updated_at_utc"`
	RatingSystem      RatingSystemInfo    `json:"rating_system"`
	MatchmakingPolicy string              `json:"matchmaking_policy"`
	Generators        []*LeaderboardEntry `json:"generators"`
}

type RatingSystemInfo struct {
	Name          string  `json:"name"`
	InitialRating float64 `json:"initial_rating"`
	InitialRD     float64 `json:"initial_rd"`
}

const previewSize = 5

// Leaderboard assembles the full ranked board from ratings joined with
// generator metadata. Ratings are ordered rating DESC by the store.
func (s *Service) Leaderboard(ctx context.Context) (*Leaderboard, error) {
	entries, err := s.leaderboardEntries(ctx, s.store, 0)
	if err != nil {
		return nil, err
	}
	return &Leaderboard{
		ProtocolVersion: types.ProtocolVersion,
		UpdatedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		RatingSystem: RatingSystemInfo{
			Name:          "Glicko-2",
			InitialRating: s.params.Rating.InitialRating,
			InitialRD:     s.params.Rating.InitialRD,
		},
		MatchmakingPolicy: s.params.Policy,
		Generators:        entries,
	}, nil
}

func (s *Service) leaderboardPreview(ctx context.Context, q storage.Queries) ([]*LeaderboardEntry, error) {
	return s.leaderboardEntries(ctx, q, previewSize)
}

func (s *Service) leaderboardEntries(ctx context.Context, q storage.Queries, limit int) ([]*LeaderboardEntry, error) {
	ratings, err := q.ListRatings(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*LeaderboardEntry, 0, len(ratings))
	rank := 0
	for _, r := range ratings {
		g, err := q.GetGenerator(ctx, r.GeneratorID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !g.IsActive {
			continue
		}
		rank++
		entries = append(entries, &LeaderboardEntry{
			Rank:             rank,
			GeneratorID:      g.ID,
			Name:             g.Name,
			Version:          g.Version,
			DocumentationURL: g.DocumentationURL,
			Rating:           r.Value,
			GamesPlayed:      r.GamesPlayed,
			Wins:             r.Wins,
			Losses:           r.Losses,
			Ties:             r.Ties,
			Skips:            r.Skips,
		})
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// GeneratorDetail is the body of GET /v1/generators/{id}.
type GeneratorDetail struct {
	ProtocolVersion string        `json:"protocol_version"`
	Generator       GeneratorInfo `json:"generator"`
	Description     string        `json:"description,omitempty"`
	Tags            []string      `json:"tags"`
	IsActive        bool          `json:"is_active"`
	Rating          *RatingInfo   `json:"rating,omitempty"`
	Levels          []LevelInfo   `json:"levels"`
}

type RatingInfo struct {
	Rating      float64 `json:"rating"`
	RD          float64 `json:"rd"`
	Volatility  float64 `json:"volatility"`
	GamesPlayed int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Ties        int     `json:"ties"`
	Skips       int     `json:"skips"`
}

type LevelInfo struct {
	LevelID     string `json:"level_id"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentHash string `json:"content_hash"`
	IsActive    bool   `json:"is_active"`
}

// GeneratorDetail returns one generator with its full level list.
func (s *Service) GeneratorDetail(ctx context.Context, id string) (*GeneratorDetail, error) {
	g, err := s.store.GetGenerator(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierr.NotFound(apierr.CodeGeneratorNotFound, "generator not found")
	}
	if err != nil {
		return nil, err
	}

	detail := &GeneratorDetail{
		ProtocolVersion: types.ProtocolVersion,
		Generator: GeneratorInfo{
			GeneratorID:      g.ID,
			Name:             g.Name,
			Version:          g.Version,
			DocumentationURL: g.DocumentationURL,
		},
		Description: g.Description,
		Tags:        g.Tags,
		IsActive:    g.IsActive,
	}
	if detail.Tags == nil {
		detail.Tags = []string{}
	}

	if r, err := s.store.GetRating(ctx, id); err == nil {
		detail.Rating = &RatingInfo{
			Rating: r.Value, RD: r.RD, Volatility: r.Volatility,
			GamesPlayed: r.GamesPlayed, Wins: r.Wins, Losses: r.Losses,
			Ties: r.Ties, Skips: r.Skips,
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	levels, err := s.store.ListLevelsByGenerator(ctx, id, false)
	if err != nil {
		return nil, err
	}
	detail.Levels = make([]LevelInfo, 0, len(levels))
	for _, l := range levels {
		detail.Levels = append(detail.Levels, LevelInfo{
			LevelID:     l.ID,
			Width:       l.Width,
			Height:      l.Height,
			ContentHash: l.ContentHash,
			IsActive:    l.IsActive,
		})
	}
	return detail, nil
}

// ConfusionMatrix is the body of GET /v1/stats/confusion-matrix.
type ConfusionMatrix struct {
	ProtocolVersion string          `json:"protocol_version"`
	UpdatedAtUTC    string          `json:"updated_at_utc"`
	GeneratorIDs    []string        `json:"generator_ids"`
	Cells           []ConfusionCell `json:"cells"`
	Coverage        CoverageMetrics `json:"coverage"`
}

type ConfusionCell struct {
	Gen1ID  string `json:"gen1_id"`
	Gen2ID  string `json:"gen2_id"`
	Battles int    `json:"battles"`
	Gen1Win int    `json:"gen1_wins"`
	Gen2Win int    `json:"gen2_wins"`
	Ties    int    `json:"ties"`
	Skips   int    `json:"skips"`
}

type CoverageMetrics struct {
	TotalPairs           int     `json:"total_pairs"`
	PairsWithData        int     `json:"pairs_with_data"`
	PairsAtTarget        int     `json:"pairs_at_target"`
	TargetBattlesPerPair int     `json:"target_battles_per_pair"`
	CoveragePercent      float64 `json:"coverage_percent"`
}

// ConfusionMatrix reports pairwise outcomes over active generators plus
// how far the coverage pass has progressed toward the per-pair target.
func (s *Service) ConfusionMatrix(ctx context.Context) (*ConfusionMatrix, error) {
	gens, err := s.store.ListGenerators(ctx, true)
	if err != nil {
		return nil, err
	}
	pairStats, err := s.store.GetPairStats(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(gens))
	active := make(map[string]bool, len(gens))
	for _, g := range gens {
		ids = append(ids, g.ID)
		active[g.ID] = true
	}

	target := s.params.Matchmaking.TargetBattlesPerPair
	cells := make([]ConfusionCell, 0, len(pairStats))
	withData, atTarget := 0, 0
	for _, p := range pairStats {
		if !active[p.Gen1ID] || !active[p.Gen2ID] {
			continue
		}
		cells = append(cells, ConfusionCell{
			Gen1ID: p.Gen1ID, Gen2ID: p.Gen2ID,
			Battles: p.BattleCount,
			Gen1Win: p.Gen1Wins, Gen2Win: p.Gen2Wins,
			Ties: p.Ties, Skips: p.Skips,
		})
		if p.BattleCount > 0 {
			withData++
		}
		if p.BattleCount >= target {
			atTarget++
		}
	}

	totalPairs := len(ids) * (len(ids) - 1) / 2
	coverage := 0.0
	if totalPairs > 0 {
		coverage = 100 * float64(atTarget) / float64(totalPairs)
	}
	return &ConfusionMatrix{
		ProtocolVersion: types.ProtocolVersion,
		UpdatedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		GeneratorIDs:    ids,
		Cells:           cells,
		Coverage: CoverageMetrics{
			TotalPairs:           totalPairs,
			PairsWithData:        withData,
			PairsAtTarget:        atTarget,
			TargetBattlesPerPair: target,
			CoveragePercent:      coverage,
		},
	}, nil
}

// PlatformStats is the body of GET /v1/stats/platform.
type PlatformStats struct {
	ProtocolVersion string `json:"protocol_version"`
	TotalGenerators int    `json:"total_generators"`
	TotalBattles    int    `json:"total_battles"`
	TotalVotes      int    `json:"total_votes"`
	TotalPlayers    int    `json:"total_players"`
}

func (s *Service) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	gens, err := s.store.ListGenerators(ctx, true)
	if err != nil {
		return nil, err
	}
	battles, err := s.store.CountBattles(ctx)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.CountVotes(ctx)
	if err != nil {
		return nil, err
	}
	players, err := s.store.CountPlayerProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return &PlatformStats{
		ProtocolVersion: types.ProtocolVersion,
		TotalGenerators: len(gens),
		TotalBattles:    battles,
		TotalVotes:      votes,
		TotalPlayers:    players,
	}, nil
}

// LevelStatsDetail is the body of GET /v1/stats/levels/{id}.
type LevelStatsDetail struct {
	ProtocolVersion string         `json:"protocol_version"`
	LevelID         string         `json:"level_id"`
	GeneratorID     string         `json:"generator_id"`
	TimesShown      int            `json:"times_shown"`
	TimesWon        int            `json:"times_won"`
	TimesLost       int            `json:"times_lost"`
	TimesTied       int            `json:"times_tied"`
	TimesSkipped    int            `json:"times_skipped"`
	TimesCompleted  int            `json:"times_completed"`
	TotalDeaths     int            `json:"total_deaths"`
	AvgPlaySeconds  float64        `json:"avg_play_seconds"`
	TagCounts       map[string]int `json:"tag_counts"`
}

func (s *Service) LevelStatsDetail(ctx context.Context, levelID string) (*LevelStatsDetail, error) {
	if _, err := s.store.GetLevel(ctx, levelID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apierr.NotFound(apierr.CodeNotFound, "level not found")
		}
		return nil, err
	}
	stats, err := s.store.GetLevelStats(ctx, levelID)
	if errors.Is(err, storage.ErrNotFound) {
		stats = &types.LevelStats{LevelID: levelID, TagCounts: map[string]int{}}
	} else if err != nil {
		return nil, err
	}

	avg := 0.0
	if stats.TimesShown > 0 {
		avg = stats.TotalPlaySecs / float64(stats.TimesShown)
	}
	tagCounts := stats.TagCounts
	if tagCounts == nil {
		tagCounts = map[string]int{}
	}
	return &LevelStatsDetail{
		ProtocolVersion: types.ProtocolVersion,
		LevelID:         stats.LevelID,
		GeneratorID:     stats.GeneratorID,
		TimesShown:      stats.TimesShown,
		TimesWon:        stats.TimesWon,
		TimesLost:       stats.TimesLost,
		TimesTied:       stats.TimesTied,
		TimesSkipped:    stats.TimesSkipped,
		TimesCompleted:  stats.TimesCompleted,
		TotalDeaths:     stats.TotalDeaths,
		AvgPlaySeconds:  avg,
		TagCounts:       tagCounts,
	}, nil
}
