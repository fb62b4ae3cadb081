package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/api/models"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"
	"offer-allocation/internal/optimize"
	"offer-allocation/internal/recorder"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AllocationHandler handles allocation runs
type AllocationHandler struct {
	cfg      *config.Config
	feeds    *feedLoader
	store    *RunStore
	recorder recorder.Recorder
	log      logrus.FieldLogger
}

// NewAllocationHandler creates a new allocation handler. client and rec may
// be nil.
func NewAllocationHandler(cfg *config.Config, client *data.FeedClient, store *RunStore, rec recorder.Recorder, log logrus.FieldLogger) *AllocationHandler {
	log = logging.OrDiscard(log).WithField("component", "api")
	if store == nil {
		store = NewRunStore(DefaultRunStoreSize)
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &AllocationHandler{
		cfg:      cfg,
		feeds:    &feedLoader{cfg: cfg, client: client, log: log},
		store:    store,
		recorder: rec,
		log:      log,
	}
}

// Allocate handles POST /api/v1/allocate
func (h *AllocationHandler) Allocate(c *gin.Context) {
	h.run(c, "")
}

// Compare handles POST /api/v1/allocate/compare
func (h *AllocationHandler) Compare(c *gin.Context) {
	h.run(c, engine.ModeCompare)
}

func (h *AllocationHandler) run(c *gin.Context, force engine.Mode) {
	var req models.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if force != "" {
		req.Engine.Mode = string(force)
	}

	cfg, err := h.requestConfig(req)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	feed, err := h.feeds.load(ctx, req.APIKey, req.Feed, req.Source)
	if err != nil {
		writeFeedError(c, err)
		return
	}

	eng := engine.New(feed, cfg.ToEngineConfig(), cfg.NewSolver(h.log), h.log)
	out, runErr := eng.Run(ctx)
	if out != nil {
		h.store.Put(out)
		h.record(out, runErr)
	}
	if runErr != nil {
		writeRunError(c, out, runErr)
		return
	}

	c.JSON(http.StatusOK, buildResponse(out, req.Options))
}

// requestConfig overlays the request's overrides on a copy of the server
// config.
func (h *AllocationHandler) requestConfig(req models.AllocateRequest) (*config.Config, error) {
	cfg := *h.cfg
	cfg.Engine = config.MergeEngine(cfg.Engine, config.EngineConfig{
		Mode:           req.Engine.Mode,
		BigM:           req.Engine.BigM,
		SafetyFactor:   req.Engine.SafetyFactor,
		TieBreakWeight: req.Engine.TieBreakWeight,
		Linkage:        req.Engine.Linkage,
		Epsilon:        req.Engine.Epsilon,
		MaxRounds:      req.Engine.MaxRounds,
	})
	cfg.Solver = config.MergeSolver(cfg.Solver, config.SolverConfig{
		Disabled:    req.Solver.Disabled,
		TimeLimit:   time.Duration(req.Solver.TimeLimitSecs * float64(time.Second)),
		RelativeGap: req.Solver.RelativeGap,
		MaxNodes:    req.Solver.MaxNodes,
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// record persists the run without tying it to the request context.
func (h *AllocationHandler) record(out *engine.Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := recorder.FromOutcome(out, analysis.Summarize(out.Result), runErr)
	if err := h.recorder.RecordRun(ctx, rec); err != nil {
		h.log.WithError(err).WithField("run_id", out.ID).Warn("failed to record run")
	}
}

// GetRun handles GET /api/v1/allocate/:id
func (h *AllocationHandler) GetRun(c *gin.Context) {
	out, ok := h.store.Get(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "RUN_NOT_FOUND", "no stored run with id "+c.Param("id"), nil)
		return
	}
	c.JSON(http.StatusOK, buildResponse(out, models.AllocateOptions{
		IncludeAllocations: c.Query("include_allocations") == "true",
		IncludeRounds:      c.Query("include_rounds") == "true",
	}))
}

// GetTables handles GET /api/v1/allocate/:id/tables. ?result=alternate
// selects the compare-mode iterative result.
func (h *AllocationHandler) GetTables(c *gin.Context) {
	out, ok := h.store.Get(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "RUN_NOT_FOUND", "no stored run with id "+c.Param("id"), nil)
		return
	}
	res := out.Result
	if c.Query("result") == "alternate" {
		if out.Alternate == nil {
			writeError(c, http.StatusNotFound, "NO_ALTERNATE", "run has no alternate result", nil)
			return
		}
		res = out.Alternate
	}
	c.JSON(http.StatusOK, buildTables(out.ID, res))
}

// writeRunError maps engine failures to error bodies. A failed outcome still
// reports its deficits.
func writeRunError(c *gin.Context, out *engine.Outcome, err error) {
	details := map[string]interface{}{}
	if out != nil {
		details["run_id"] = out.ID
		details["path"] = out.Path
		if out.Result != nil {
			details["deficit"] = out.Result.TotalDeficit()
		}
	}

	var (
		infeasible *optimize.InfeasibleError
		invariant  *model.InvariantError
	)
	switch {
	case errors.As(err, &infeasible):
		details["slots"] = infeasible.Slots
		writeError(c, http.StatusUnprocessableEntity, "INFEASIBLE_MODEL", err.Error(), details)
	case errors.Is(err, optimize.ErrUnbounded):
		writeError(c, http.StatusUnprocessableEntity, "UNBOUNDED_MODEL", err.Error(), details)
	case errors.Is(err, optimize.ErrTieBreakTooLarge),
		errors.Is(err, optimize.ErrBigMTooSmall),
		errors.Is(err, optimize.ErrSafetyFactor):
		writeError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), details)
	case errors.Is(err, engine.ErrNoSlots):
		writeError(c, http.StatusBadRequest, "NO_SLOTS", err.Error(), details)
	case errors.As(err, &invariant):
		details["violations"] = invariant.Violations
		writeError(c, http.StatusInternalServerError, "INVARIANT_VIOLATION", err.Error(), details)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, "CANCELLED", err.Error(), details)
	default:
		writeError(c, http.StatusInternalServerError, "ALLOCATION_ERROR", err.Error(), details)
	}
}

func buildResponse(out *engine.Outcome, opts models.AllocateOptions) models.AllocateResponse {
	resp := models.AllocateResponse{
		ID:         out.ID,
		Mode:       string(out.Mode),
		Path:       string(out.Path),
		Degraded:   out.Path.Degraded(),
		Primary:    buildResultView(out.Result, opts),
		Comparison: out.Comparison,
		StartedAt:  out.StartedAt,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Alternate != nil {
		alt := buildResultView(out.Alternate, opts)
		resp.Alternate = &alt
	}
	if s := out.Snapshot; s != nil {
		resp.Issues = s.Issues
		if n := len(s.Slots); n > 0 {
			resp.Window = models.SlotWindow{Start: s.Slots[0].Slot, End: s.Slots[n-1].Slot, Slots: n}
		}
	}
	return resp
}

func buildResultView(r *model.Result, opts models.AllocateOptions) models.ResultView {
	if r == nil {
		return models.ResultView{Summary: analysis.Summarize(nil)}
	}
	v := models.ResultView{
		Method:      string(r.Method),
		Status:      r.Status,
		Termination: string(r.Termination),
		Objective:   r.Objective,
		Summary:     analysis.Summarize(r),
	}
	if opts.IncludeAllocations {
		v.Allocations = r.Allocations
		v.Deficits = r.Deficits
	}
	if opts.IncludeRounds {
		v.Rounds = r.Rounds
	}
	return v
}

func buildTables(id string, r *model.Result) models.TablesResponse {
	resp := models.TablesResponse{ID: id}
	if r == nil {
		return resp
	}
	dates := analysis.ResultDates(r)
	for _, t := range analysis.AllocationTables(r) {
		resp.Allocations = append(resp.Allocations, pivotTable(t, dates))
	}
	for _, t := range analysis.LeftoverTables(r) {
		resp.Leftovers = append(resp.Leftovers, pivotTable(t, dates))
	}
	resp.Deficits = pivotTable(analysis.OfferRoundTable{Quantities: analysis.DeficitTable(r)}, dates)
	return resp
}

func pivotTable(t analysis.OfferRoundTable, dates []model.Date) models.PivotTable {
	p := analysis.PivotByDate(t.Quantities, dates)
	out := models.PivotTable{OfferID: t.OfferID, Round: t.Round, Rows: make([]models.PivotRow, len(p.Dates))}
	for i, d := range p.Dates {
		out.Rows[i] = models.PivotRow{Date: d, Hours: p.Rows[i], Total: p.RowTotal(i)}
	}
	return out
}
