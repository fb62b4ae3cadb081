package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"offer-allocation/internal/engine"
	"offer-allocation/internal/optimize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"FEED_URL", "FEED_API_KEY", "FEED_FILE", "OFFER_CATALOG_FILE", "SQLITE_PATH",
	"ALLOCATION_CRON", "LOG_LEVEL", "API_PORT", "API_ENV", "SOLVER_TIME_LIMIT",
	"ENGINE_MODE", "OUTPUT_DECIMALS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

const sampleYAML = `
engine:
  mode: compare
  linkage: all-or-nothing
  safety_factor: 20
  max_rounds: 5
solver:
  time_limit: 30s
  max_nodes: 500
feed:
  file: feed.json
  catalog_file: missing/offers.json
output:
  dir: reports
  decimals: 4
recorder:
  sqlite_path: runs.db
schedule:
  cron: "0 0 6 * * *"
`

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return dir, path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir, path := writeConfig(t, sampleYAML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feed.json"), []byte("{}"), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "compare", c.Engine.Mode)
	assert.Equal(t, "all-or-nothing", c.Engine.Linkage)
	assert.Equal(t, 20.0, c.Engine.SafetyFactor)
	assert.Equal(t, 30*time.Second, c.Solver.TimeLimit)
	assert.Equal(t, 1e-4, c.Solver.RelativeGap)
	assert.Equal(t, 4, c.Output.Decimals)
	assert.Equal(t, "0 0 6 * * *", c.Schedule.Cron)

	// Existing files resolve against the config directory.
	assert.Equal(t, filepath.Join(dir, "feed.json"), c.Feed.File)
	assert.Equal(t, "missing/offers.json", c.Feed.CatalogFile)

	ec := c.ToEngineConfig()
	assert.Equal(t, engine.ModeCompare, ec.Mode)
	assert.Equal(t, optimize.LinkageAllOrNothing, ec.Model.Linkage)
	assert.Equal(t, 500, ec.Solve.MaxNodes)
	assert.Equal(t, 5, ec.Iterative.MaxRounds)

	src := c.FeedSource()
	assert.Equal(t, c.Feed.File, src.File)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "auto", c.Engine.Mode)
	assert.Equal(t, "none", c.Engine.Linkage)
	assert.Equal(t, optimize.DefaultSafetyFactor, c.Engine.SafetyFactor)
	assert.Equal(t, 60*time.Second, c.Solver.TimeLimit)
	assert.Equal(t, "out", c.Output.Dir)
	assert.Equal(t, 2, c.Output.Decimals)
	assert.Equal(t, "8080", c.API.Port)
	assert.Equal(t, time.Hour, c.Feed.CacheTTL)
	assert.Equal(t, Default(), c)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	_, path := writeConfig(t, sampleYAML)
	t.Setenv("ENGINE_MODE", "heuristic")
	t.Setenv("SOLVER_TIME_LIMIT", "5s")
	t.Setenv("OUTPUT_DECIMALS", "3")
	t.Setenv("FEED_URL", "https://feeds.example.com")
	t.Setenv("FEED_API_KEY", "env-key-1234")
	t.Setenv("SQLITE_PATH", "/var/lib/runs.db")

	c, err := LoadUnchecked(path)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", c.Engine.Mode)
	assert.Equal(t, 5*time.Second, c.Solver.TimeLimit)
	assert.Equal(t, 3, c.Output.Decimals)
	assert.Equal(t, "/var/lib/runs.db", c.Recorder.SQLitePath)

	// A feed URL without a dataset does not validate.
	assert.Error(t, c.Finalize())
	c.Feed.Dataset = "day-ahead"
	assert.NoError(t, c.Finalize())
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, path := writeConfig(t, "engine: [")
	_, err = Load(path)
	assert.Error(t, err)

	_, path = writeConfig(t, "engine:\n  mode: fastest\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"mode", func(c *Config) { c.Engine.Mode = "fastest" }},
		{"linkage", func(c *Config) { c.Engine.Linkage = "sometimes" }},
		{"big-M", func(c *Config) { c.Engine.BigM = -1 }},
		{"safety factor", func(c *Config) { c.Engine.SafetyFactor = 2 }},
		{"tie-break", func(c *Config) { c.Engine.TieBreakWeight = -1 }},
		{"epsilon", func(c *Config) { c.Engine.Epsilon = 0.5 }},
		{"max rounds", func(c *Config) { c.Engine.MaxRounds = -1 }},
		{"time limit", func(c *Config) { c.Solver.TimeLimit = -time.Second }},
		{"relative gap", func(c *Config) { c.Solver.RelativeGap = 1 }},
		{"max nodes", func(c *Config) { c.Solver.MaxNodes = -1 }},
		{"decimals", func(c *Config) { c.Output.Decimals = 13 }},
	}
	assert.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestMerge(t *testing.T) {
	base := Default()
	e := MergeEngine(base.Engine, EngineConfig{Mode: "heuristic", MaxRounds: 3})
	assert.Equal(t, "heuristic", e.Mode)
	assert.Equal(t, 3, e.MaxRounds)
	assert.Equal(t, base.Engine.Linkage, e.Linkage)
	assert.Equal(t, base.Engine.SafetyFactor, e.SafetyFactor)

	s := MergeSolver(base.Solver, SolverConfig{Disabled: true, MaxNodes: 10})
	assert.True(t, s.Disabled)
	assert.Equal(t, 10, s.MaxNodes)
	assert.Equal(t, base.Solver.TimeLimit, s.TimeLimit)
}

func TestFeedClientAndSolver(t *testing.T) {
	c := Default()
	assert.Nil(t, c.FeedClient(nil))
	assert.NotNil(t, c.NewSolver(nil))

	c.Feed.URL = "https://feeds.example.com"
	client := c.FeedClient(nil)
	require.NotNil(t, client)
	assert.NotNil(t, client.Cache)
	client.Cache.Close()

	c.API.Env = "production"
	assert.Nil(t, c.FeedClient(nil).Cache)

	c.Solver.Disabled = true
	assert.Nil(t, c.NewSolver(nil))
}
