package podds

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PoddsConfig contains all configurable parameters that influence training, prediction and the live feed.
// This centralizes all magic numbers and constants for easy adjustment
type PoddsConfig struct {
	// Paths and storage
	PoddsDataPath  string // Root of the historical corpus, one folder per league (default: ./data)
	PoddsCachePath string // Where scraped pages are cached (default: ./data/cache)
	DatabaseURL    string // postgres:// URL or sqlite path (default: ./edgelock.db)

	// === LEAGUES ===
	Leagues       map[string]int // league name (corpus folder) to API-Football league id
	CurrentSeason int            // first year of the season queried on the feed, PODDS_SEASON accepts 2025/26 (default: 2025)

	// === FEED ===
	ApiFootballBaseURL   string  // (default: https://v3.football.api-sports.io)
	ApiFootballHost      string  // x-rapidapi-host header value
	ApiFootballKey       string  // x-rapidapi-key header value
	FeedRequestsPerSec   float64 // client side rate limit (default: 5)
	NextFixtures         int     // upcoming fixtures requested per league (default: 30)
	PreferredBookmakerID int     // bookmaker used for market odds, first bookmaker otherwise (default: 1)
	CacheDuration        time.Duration

	// === TRAINING ===
	RecencyDecayRate   float64 // weight = exp(-rate * age_in_days) (default: 0.0025)
	MinHomeAppearances int     // teams need at least this many home rows to be rated (default: 3)

	// === POISSON GRID ===
	PoissonRange        int       // scoreline grid covers 0..N goals per side (default: 10)
	HeavyFavouriteRange int       // grid used when either side is expected to score heavily (default: 15)
	HeavyFavouriteXG    float64   // expected goals at which the larger grid kicks in (default: 2.5)
	GoalLines           []float64 // over/under lines (default: 1.5..4.5)
	HandicapLines       []float64 // home handicap lines, away lines mirror them (default: ±0.5..±2.5)

	// === SURFACES ===
	HTTPAddr    string // REST listen address (default: :8000)
	LogLevel    string // (default: info)
	LogFilePath string // used when logging to file
}

// DefaultPoddsConfig returns the default configuration with all standard values
func DefaultPoddsConfig() *PoddsConfig {
	return &PoddsConfig{
		PoddsDataPath:  "./data",
		PoddsCachePath: "./data/cache",
		DatabaseURL:    "./edgelock.db",

		Leagues:       map[string]int{"Bundesliga": 78},
		CurrentSeason: 2025,

		ApiFootballBaseURL:   "https://v3.football.api-sports.io",
		ApiFootballHost:      "v3.football.api-sports.io",
		FeedRequestsPerSec:   5,
		NextFixtures:         30,
		PreferredBookmakerID: 1,
		CacheDuration:        60 * time.Second,

		RecencyDecayRate:   0.0025,
		MinHomeAppearances: 3,

		PoissonRange:        10,
		HeavyFavouriteRange: 15,
		HeavyFavouriteXG:    2.5,
		GoalLines:           []float64{1.5, 2.5, 3.5, 4.5},
		HandicapLines:       []float64{-2.5, -1.5, -0.5, 0.5, 1.5, 2.5},

		HTTPAddr: ":8000",
		LogLevel: "info",
	}
}

// LoadConfig starts from the defaults, applies an optional .env file and then the environment
func LoadConfig() (*PoddsConfig, error) {
	_ = godotenv.Load()

	c := DefaultPoddsConfig()
	c.PoddsDataPath = envStr("PODDS_DATA_PATH", c.PoddsDataPath)
	c.PoddsCachePath = envStr("PODDS_CACHE_PATH", c.PoddsCachePath)
	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)

	c.ApiFootballBaseURL = envStr("API_FOOTBALL_URL", c.ApiFootballBaseURL)
	c.ApiFootballHost = envStr("API_FOOTBALL_HOST", c.ApiFootballHost)
	c.ApiFootballKey = envStr("API_FOOTBALL_KEY", c.ApiFootballKey)
	c.FeedRequestsPerSec = envFloat("API_FOOTBALL_RPS", c.FeedRequestsPerSec)
	c.PreferredBookmakerID = envInt("PODDS_BOOKMAKER_ID", c.PreferredBookmakerID)
	c.CacheDuration = time.Duration(envInt("PODDS_CACHE_SECONDS", int(c.CacheDuration/time.Second))) * time.Second

	c.RecencyDecayRate = envFloat("PODDS_DECAY_RATE", c.RecencyDecayRate)
	c.MinHomeAppearances = envInt("PODDS_MIN_HOME_ROWS", c.MinHomeAppearances)
	c.PoissonRange = envInt("PODDS_POISSON_RANGE", c.PoissonRange)

	c.HTTPAddr = envStr("PODDS_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFilePath = envStr("PODDS_LOG_FILE", c.LogFilePath)

	if v := os.Getenv("PODDS_SEASON"); v != "" {
		year, err := SeasonStartYear(v)
		if err != nil {
			return nil, err
		}
		c.CurrentSeason = year
	}
	if v := os.Getenv("PODDS_LEAGUES"); v != "" {
		leagues, err := parseLeagues(v)
		if err != nil {
			return nil, err
		}
		c.Leagues = leagues
	}

	if err := ValidateConfig(c); err != nil {
		return nil, err
	}
	return c, nil
}

// parseLeagues reads "Bundesliga=78,Premier League=39"
func parseLeagues(v string) (map[string]int, error) {
	leagues := make(map[string]int)
	for _, part := range strings.Split(v, ",") {
		name, id, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid league entry %q, want name=id", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("invalid league id in %q: %w", part, err)
		}
		leagues[strings.TrimSpace(name)] = n
	}
	return leagues, nil
}

// LeagueNames returns the configured league names in a stable order
func (c *PoddsConfig) LeagueNames() []string {
	names := make([]string, 0, len(c.Leagues))
	for name := range c.Leagues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarketConfig returns the grid and line settings used by the probability engine
func (c *PoddsConfig) MarketConfig() MarketConfig {
	return MarketConfig{
		GridSize:               c.PoissonRange,
		HeavyFavouriteGridSize: c.HeavyFavouriteRange,
		HeavyFavouriteXG:       c.HeavyFavouriteXG,
		GoalLines:              c.GoalLines,
		HandicapLines:          c.HandicapLines,
	}
}

// === CONFIGURATION VALIDATION ===

// ValidateConfig ensures all configuration values are within reasonable ranges
func ValidateConfig(config *PoddsConfig) error {
	if config.RecencyDecayRate < 0 {
		return fmt.Errorf("RecencyDecayRate must not be negative, got: %f", config.RecencyDecayRate)
	}
	if config.MinHomeAppearances < 1 {
		return fmt.Errorf("MinHomeAppearances must be at least 1, got: %d", config.MinHomeAppearances)
	}
	if config.PoissonRange < 10 {
		return fmt.Errorf("PoissonRange must be at least 10, got: %d", config.PoissonRange)
	}
	if config.HeavyFavouriteRange < config.PoissonRange {
		return fmt.Errorf("HeavyFavouriteRange (%d) must not be smaller than PoissonRange (%d)", config.HeavyFavouriteRange, config.PoissonRange)
	}
	for _, l := range config.GoalLines {
		if l <= 0 {
			return fmt.Errorf("goal lines must be positive, got: %f", l)
		}
	}
	if len(config.Leagues) == 0 {
		return fmt.Errorf("at least one league must be configured")
	}
	if config.CacheDuration < 0 {
		return fmt.Errorf("CacheDuration must not be negative, got: %s", config.CacheDuration)
	}
	if config.FeedRequestsPerSec <= 0 {
		return fmt.Errorf("FeedRequestsPerSec must be positive, got: %f", config.FeedRequestsPerSec)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
