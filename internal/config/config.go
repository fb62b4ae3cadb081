package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"offer-allocation/internal/data"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/optimize"
	"offer-allocation/internal/strategy"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Solver   SolverConfig   `yaml:"solver"`
	Feed     FeedConfig     `yaml:"feed"`
	Output   OutputConfig   `yaml:"output"`
	Recorder RecorderConfig `yaml:"recorder"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
}

type EngineConfig struct {
	Mode string `yaml:"mode"` // auto | heuristic | compare
	// Zero BigM and TieBreakWeight are derived from the feed at run time.
	BigM           float64 `yaml:"big_m"`
	SafetyFactor   float64 `yaml:"safety_factor"`
	TieBreakWeight float64 `yaml:"tie_break_weight"`
	Linkage        string  `yaml:"linkage"` // none | indicator | all-or-nothing
	Epsilon        float64 `yaml:"epsilon"`
	MaxRounds      int     `yaml:"max_rounds"`
}

type SolverConfig struct {
	// Disabled forces the unavailable-solver path.
	Disabled    bool          `yaml:"disabled"`
	TimeLimit   time.Duration `yaml:"time_limit"`
	RelativeGap float64       `yaml:"relative_gap"`
	MaxNodes    int           `yaml:"max_nodes"`
}

type FeedConfig struct {
	// File is a local feed document. Relative paths are resolved against the
	// config file directory first.
	File        string `yaml:"file"`
	CatalogFile string `yaml:"catalog_file"`

	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	Dataset  string        `yaml:"dataset"`
	Start    string        `yaml:"start"` // YYYY-MM-DD
	End      string        `yaml:"end"`   // YYYY-MM-DD
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Decimals int    `yaml:"decimals"`
}

type RecorderConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type ScheduleConfig struct {
	// Cron uses the six-field format with seconds. Empty disables scheduling.
	Cron string `yaml:"cron"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (if non-empty), applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// Finalize fills defaults and validates. Callers of LoadUnchecked use it
// after applying their own overrides.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

// LoadUnchecked loads the file and environment overrides, but neither fills
// defaults nor validates. Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	var c Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		c.Feed.File = resolveRelative(path, c.Feed.File)
		c.Feed.CatalogFile = resolveRelative(path, c.Feed.CatalogFile)
	}
	c.applyEnv()
	return &c, nil
}

// resolveRelative prefers interpreting p relative to the config file
// directory, falling back to p as given (relative to cwd).
func resolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	cand := filepath.Join(filepath.Dir(configPath), p)
	if _, err := os.Stat(cand); err == nil {
		return cand
	}
	return p
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("FEED_FILE"); v != "" {
		c.Feed.File = v
	}
	if v := os.Getenv("OFFER_CATALOG_FILE"); v != "" {
		c.Feed.CatalogFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Recorder.SQLitePath = v
	}
	if v := os.Getenv("ALLOCATION_CRON"); v != "" {
		c.Schedule.Cron = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		c.API.Port = v
	}
	if v := os.Getenv("API_ENV"); v != "" {
		c.API.Env = v
	}
	if v := os.Getenv("SOLVER_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Solver.TimeLimit = d
		}
	}
	if v := os.Getenv("ENGINE_MODE"); v != "" {
		c.Engine.Mode = v
	}
	if v := os.Getenv("OUTPUT_DECIMALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Output.Decimals = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Engine.Mode == "" {
		c.Engine.Mode = string(engine.ModeAuto)
	}
	if c.Engine.Linkage == "" {
		c.Engine.Linkage = string(optimize.LinkageNone)
	}
	if c.Engine.SafetyFactor == 0 {
		c.Engine.SafetyFactor = optimize.DefaultSafetyFactor
	}
	if c.Solver.TimeLimit == 0 {
		c.Solver.TimeLimit = 60 * time.Second
	}
	if c.Solver.RelativeGap == 0 {
		c.Solver.RelativeGap = 1e-4
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "out"
	}
	if c.Output.Decimals == 0 {
		c.Output.Decimals = 2
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.Feed.CacheTTL == 0 {
		c.Feed.CacheTTL = time.Hour
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, ok := engine.ParseMode(c.Engine.Mode); !ok {
		return fmt.Errorf("engine.mode %q is not one of auto, heuristic, compare", c.Engine.Mode)
	}
	switch optimize.Linkage(c.Engine.Linkage) {
	case optimize.LinkageNone, optimize.LinkageIndicator, optimize.LinkageAllOrNothing:
	default:
		return fmt.Errorf("engine.linkage %q is not one of none, indicator, all-or-nothing", c.Engine.Linkage)
	}
	if c.Engine.BigM < 0 {
		return errors.New("engine.big_m must be >= 0")
	}
	if c.Engine.SafetyFactor < 10 {
		return errors.New("engine.safety_factor must be >= 10")
	}
	if c.Engine.TieBreakWeight < 0 {
		return errors.New("engine.tie_break_weight must be >= 0")
	}
	if c.Engine.Epsilon < 0 || c.Engine.Epsilon > 1e-2 {
		return errors.New("engine.epsilon must be in [0, 0.01]")
	}
	if c.Engine.MaxRounds < 0 {
		return errors.New("engine.max_rounds must be >= 0")
	}
	if c.Solver.TimeLimit < 0 {
		return errors.New("solver.time_limit must be >= 0")
	}
	if c.Solver.RelativeGap < 0 || c.Solver.RelativeGap >= 1 {
		return errors.New("solver.relative_gap must be in [0, 1)")
	}
	if c.Solver.MaxNodes < 0 {
		return errors.New("solver.max_nodes must be >= 0")
	}
	if c.Output.Decimals < 0 || c.Output.Decimals > 12 {
		return errors.New("output.decimals must be in [0, 12]")
	}
	if c.Feed.URL != "" && c.Feed.Dataset == "" {
		return errors.New("feed.dataset is required when feed.url is set")
	}
	return nil
}

// ToEngineConfig converts the engine and solver sections for engine.New.
func (c *Config) ToEngineConfig() engine.Config {
	mode, _ := engine.ParseMode(c.Engine.Mode)
	return engine.Config{
		Mode: mode,
		Model: optimize.ModelConfig{
			BigM:           c.Engine.BigM,
			SafetyFactor:   c.Engine.SafetyFactor,
			TieBreakWeight: c.Engine.TieBreakWeight,
			Linkage:        optimize.Linkage(c.Engine.Linkage),
		},
		Solve: optimize.SolveParams{
			TimeLimit:   c.Solver.TimeLimit,
			RelativeGap: c.Solver.RelativeGap,
			MaxNodes:    c.Solver.MaxNodes,
		},
		Iterative: strategy.IterativeParams{
			Epsilon:   c.Engine.Epsilon,
			MaxRounds: c.Engine.MaxRounds,
		},
		Tolerance: c.Engine.Epsilon,
	}
}

// MergeEngine overlays non-zero fields from override onto base.
// This is used to apply per-request overrides on top of the loaded config.
func MergeEngine(base, override EngineConfig) EngineConfig {
	out := base
	if override.Mode != "" {
		out.Mode = override.Mode
	}
	if override.BigM != 0 {
		out.BigM = override.BigM
	}
	if override.SafetyFactor != 0 {
		out.SafetyFactor = override.SafetyFactor
	}
	if override.TieBreakWeight != 0 {
		out.TieBreakWeight = override.TieBreakWeight
	}
	if override.Linkage != "" {
		out.Linkage = override.Linkage
	}
	if override.Epsilon != 0 {
		out.Epsilon = override.Epsilon
	}
	if override.MaxRounds != 0 {
		out.MaxRounds = override.MaxRounds
	}
	return out
}

// MergeSolver overlays non-zero fields from override onto base.
func MergeSolver(base, override SolverConfig) SolverConfig {
	out := base
	if override.Disabled {
		out.Disabled = true
	}
	if override.TimeLimit != 0 {
		out.TimeLimit = override.TimeLimit
	}
	if override.RelativeGap != 0 {
		out.RelativeGap = override.RelativeGap
	}
	if override.MaxNodes != 0 {
		out.MaxNodes = override.MaxNodes
	}
	return out
}

// FeedSource converts the feed section for data.Open.
func (c *Config) FeedSource() data.Source {
	return data.Source{
		File:        c.Feed.File,
		CatalogFile: c.Feed.CatalogFile,
		Dataset:     c.Feed.Dataset,
		Start:       c.Feed.Start,
		End:         c.Feed.End,
	}
}

// FeedClient returns a client for the remote feed service, or nil when no
// URL is configured. The response cache is disabled when api.env is
// "production".
func (c *Config) FeedClient(log logrus.FieldLogger) *data.FeedClient {
	if c.Feed.URL == "" {
		return nil
	}
	client := data.NewFeedClient(c.Feed.APIKey, c.Feed.URL, log)
	if c.API.Env != "production" && c.Feed.CacheTTL > 0 {
		client.Cache = data.NewResponseCache(c.Feed.CacheTTL)
	}
	return client
}

// NewSolver returns the configured solver backend, or nil when the solver is
// disabled.
func (c *Config) NewSolver(log logrus.FieldLogger) optimize.Solver {
	if c.Solver.Disabled {
		return nil
	}
	return optimize.NewSimplexSolver(log)
}
