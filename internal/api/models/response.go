package models

import (
	"time"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/model"
)

// AllocateResponse represents the response from an allocation run
type AllocateResponse struct {
	ID       string `json:"id"`
	Mode     string `json:"mode"`
	Path     string `json:"path"`
	Degraded bool   `json:"degraded"`

	Primary   ResultView  `json:"primary"`
	Alternate *ResultView `json:"alternate,omitempty"`

	Comparison *engine.Comparison `json:"comparison,omitempty"`
	Window     SlotWindow         `json:"window"`
	Issues     model.DataIssues   `json:"data_issues"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// ResultView is one allocator's result with its rollups.
type ResultView struct {
	Method      string  `json:"method"`
	Status      string  `json:"status,omitempty"`
	Termination string  `json:"termination,omitempty"`
	Objective   float64 `json:"objective,omitempty"`

	Summary *analysis.Summary `json:"summary"`

	Allocations []model.Allocation    `json:"allocations,omitempty"`
	Deficits    []model.DeficitRecord `json:"deficits,omitempty"`
	Rounds      []model.RoundSummary  `json:"rounds,omitempty"`
}

// SlotWindow is the first and last slot a run covered.
type SlotWindow struct {
	Start model.TimeSlot `json:"start"`
	End   model.TimeSlot `json:"end"`
	Slots int            `json:"slots"`
}

// TablesResponse is the export view of a stored run.
type TablesResponse struct {
	ID          string       `json:"id"`
	Allocations []PivotTable `json:"allocations"`
	Leftovers   []PivotTable `json:"leftovers,omitempty"`
	Deficits    PivotTable   `json:"deficits"`
}

// PivotTable is one (offer, round) table laid out by date and hour.
type PivotTable struct {
	OfferID string     `json:"offer_id,omitempty"`
	Round   int        `json:"round,omitempty"`
	Rows    []PivotRow `json:"rows"`
}

type PivotRow struct {
	Date  model.Date  `json:"date"`
	Hours [24]float64 `json:"hours"`
	Total float64     `json:"total"`
}

// StatsResponse represents the response from ranking offers
type StatsResponse struct {
	Rankings []analysis.RankedOffer `json:"rankings"`
	Issues   model.DataIssues       `json:"data_issues"`
}

// RunInfo is one entry of the run history.
type RunInfo struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Mode       string    `json:"mode"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Assigned   float64   `json:"assigned"`
	Deficit    float64   `json:"deficit"`
	Cost       float64   `json:"cost"`
	AvgPrice   float64   `json:"avg_price"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// ModeInfo represents information about an engine mode
type ModeInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterInfo `json:"parameters"`
}

// ParameterInfo describes a tunable parameter
type ParameterInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // "float", "int", "string", "bool"
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
