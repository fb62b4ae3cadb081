package handlers

import (
	"net/http"

	"offer-allocation/internal/api/models"
	"offer-allocation/internal/config"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/optimize"

	"github.com/gin-gonic/gin"
)

// ModeHandler lists engine modes and their parameters
type ModeHandler struct {
	cfg *config.Config
}

func NewModeHandler(cfg *config.Config) *ModeHandler {
	return &ModeHandler{cfg: cfg}
}

// ListModes handles GET /api/v1/modes
func (h *ModeHandler) ListModes(c *gin.Context) {
	optimizerParams := []models.ParameterInfo{
		{
			Name:        "big_m",
			Type:        "float",
			Description: "Penalty per unit of unmet demand. 0 derives it from max price, total demand and safety_factor",
			Default:     h.cfg.Engine.BigM,
		},
		{
			Name:        "safety_factor",
			Type:        "float",
			Description: "Multiplier for the derived penalty (>= 10)",
			Default:     h.cfg.Engine.SafetyFactor,
		},
		{
			Name:        "tie_break_weight",
			Type:        "float",
			Description: "Cost added per priority unit. 0 derives 1e-3 / max priority",
			Default:     h.cfg.Engine.TieBreakWeight,
		},
		{
			Name:        "linkage",
			Type:        "string",
			Description: "none, indicator, or all-or-nothing (an accepted offer delivers its full capacity)",
			Default:     h.cfg.Engine.Linkage,
		},
		{
			Name:        "time_limit_secs",
			Type:        "float",
			Description: "Solver time limit",
			Default:     h.cfg.Solver.TimeLimit.Seconds(),
		},
		{
			Name:        "relative_gap",
			Type:        "float",
			Description: "Branch and bound stops once the incumbent is within this gap",
			Default:     h.cfg.Solver.RelativeGap,
		},
		{
			Name:        "max_nodes",
			Type:        "int",
			Description: "Branch and bound node limit per slot (0 = unlimited)",
			Default:     h.cfg.Solver.MaxNodes,
		},
	}
	iterativeParams := []models.ParameterInfo{
		{
			Name:        "epsilon",
			Type:        "float",
			Description: "Zero threshold for demand and capacity",
			Default:     h.cfg.Engine.Epsilon,
		},
		{
			Name:        "max_rounds",
			Type:        "int",
			Description: "Round bound (0 = number of offers + 1)",
			Default:     h.cfg.Engine.MaxRounds,
		},
	}

	modes := []models.ModeInfo{
		{
			Name:        string(engine.ModeAuto),
			Description: "Solve the allocation model; fall back to iterative allocation when the solver is unavailable or times out.",
			Parameters:  append(append([]models.ParameterInfo{}, optimizerParams...), iterativeParams...),
		},
		{
			Name:        string(engine.ModeHeuristic),
			Description: "Multi-round merit-order allocation only.",
			Parameters:  iterativeParams,
		},
		{
			Name:        string(engine.ModeCompare),
			Description: "Run both allocators on the same snapshot and report the cost difference.",
			Parameters:  append(append([]models.ParameterInfo{}, optimizerParams...), iterativeParams...),
		},
	}

	c.JSON(http.StatusOK, gin.H{
		"modes":   modes,
		"default": h.cfg.Engine.Mode,
		"linkages": []string{
			string(optimize.LinkageNone),
			string(optimize.LinkageIndicator),
			string(optimize.LinkageAllOrNothing),
		},
	})
}
