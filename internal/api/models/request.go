package models

import (
	"offer-allocation/internal/data"
)

// AllocateRequest is the body of POST /allocate and POST /allocate/compare.
// The feed is taken from, in order: an inline document, the remote feed
// service (Source), or the server's configured feed.
type AllocateRequest struct {
	APIKey string             `json:"api_key,omitempty"` // feed service key; defaults to the server's
	Feed   *data.FeedDocument `json:"feed,omitempty"`
	Source *SourceConfig      `json:"source,omitempty"`

	Engine  EngineOptions   `json:"engine,omitempty"`
	Solver  SolverOptions   `json:"solver,omitempty"`
	Options AllocateOptions `json:"options,omitempty"`
}

// SourceConfig selects a window of the remote feed service.
type SourceConfig struct {
	DatasetID string `json:"dataset_id" binding:"required"`
	StartDate string `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate   string `json:"end_date" binding:"required"`   // YYYY-MM-DD
}

// EngineOptions override the server's engine config. Zero values keep it.
type EngineOptions struct {
	Mode           string  `json:"mode,omitempty"` // auto | heuristic | compare
	BigM           float64 `json:"big_m,omitempty"`
	SafetyFactor   float64 `json:"safety_factor,omitempty"`
	TieBreakWeight float64 `json:"tie_break_weight,omitempty"`
	Linkage        string  `json:"linkage,omitempty"`
	Epsilon        float64 `json:"epsilon,omitempty"`
	MaxRounds      int     `json:"max_rounds,omitempty"`
}

type SolverOptions struct {
	Disabled      bool    `json:"disabled,omitempty"`
	TimeLimitSecs float64 `json:"time_limit_secs,omitempty"`
	RelativeGap   float64 `json:"relative_gap,omitempty"`
	MaxNodes      int     `json:"max_nodes,omitempty"`
}

type AllocateOptions struct {
	IncludeAllocations bool `json:"include_allocations,omitempty"` // default: false
	IncludeRounds      bool `json:"include_rounds,omitempty"`
}

// StatsRequest is the body of POST /offers/stats.
type StatsRequest struct {
	APIKey string             `json:"api_key,omitempty"`
	Feed   *data.FeedDocument `json:"feed,omitempty"`
	Source *SourceConfig      `json:"source,omitempty"`
	Limit  int                `json:"limit,omitempty"` // 0 = all
}
