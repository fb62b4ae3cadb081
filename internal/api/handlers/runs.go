package handlers

import (
	"net/http"
	"strconv"

	"offer-allocation/internal/api/models"
	"offer-allocation/internal/recorder"

	"github.com/gin-gonic/gin"
)

// RunHandler serves the recorded run history
type RunHandler struct {
	recorder recorder.Recorder
}

func NewRunHandler(rec recorder.Recorder) *RunHandler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &RunHandler{recorder: rec}
}

// ListRuns handles GET /api/v1/runs?limit=N
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_PARAM", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	recs, err := h.recorder.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "HISTORY_ERROR", err.Error(), nil)
		return
	}

	runs := make([]models.RunInfo, 0, len(recs))
	for _, r := range recs {
		runs = append(runs, models.RunInfo{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			Mode:       r.Mode,
			Path:       r.Path,
			Method:     r.Method,
			Assigned:   r.Assigned,
			Deficit:    r.Deficit,
			Cost:       r.Cost,
			AvgPrice:   r.AvgPrice,
			DurationMS: r.Duration.Milliseconds(),
			Error:      r.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
