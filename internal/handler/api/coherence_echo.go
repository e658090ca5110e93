package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"BasalGCT/internal/analyzer"
	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
	"BasalGCT/internal/integrator"
	"BasalGCT/internal/usecase"
	xhttp "BasalGCT/pkg/http"
	xlogger "BasalGCT/pkg/logger"
)

// CoherenceEchoHandler exposes scoring, analysis and reservoir inspection over HTTP.
type CoherenceEchoHandler struct {
	logger   *xlogger.Logger
	analyzer *analyzer.Analyzer
	proc     *usecase.CoherenceProcessor
	latest   domrepo.LatestCache
	store    domrepo.ResultStore
	jobs     JobService
	now      func() time.Time
}

// JobService runs batch analyses asynchronously.
type JobService interface {
	Submit(ctx context.Context, points []models.MarketDataPoint) (*usecase.AnalysisJob, error)
	Get(ctx context.Context, id string) (*usecase.AnalysisJob, error)
}

// NewCoherenceEchoHandler builds the handler. latest and store may be nil.
func NewCoherenceEchoHandler(logger *xlogger.Logger, a *analyzer.Analyzer, proc *usecase.CoherenceProcessor, latest domrepo.LatestCache, store domrepo.ResultStore) *CoherenceEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &CoherenceEchoHandler{
		logger:   logger.Component("api"),
		analyzer: a,
		proc:     proc,
		latest:   latest,
		store:    store,
		now:      time.Now,
	}
}

// SetJobs enables the asynchronous analysis endpoints.
func (h *CoherenceEchoHandler) SetJobs(j JobService) { h.jobs = j }

func (h *CoherenceEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/coherence/process", h.Process)
	g.GET("/coherence/latest", h.Latest)
	g.GET("/coherence/history", h.History)
	g.POST("/analyze", h.Analyze)
	g.POST("/analyze/jobs", h.SubmitJob)
	g.GET("/analyze/jobs/:id", h.GetJob)
	g.GET("/predictions/latest", h.LatestPrediction)
	g.POST("/predict", h.Predict)
	g.GET("/reservoir/state", h.ReservoirState)
	g.GET("/reservoir/snapshot", h.Snapshot)
	g.GET("/integrator/export", h.Export)
	g.GET("/alerts", h.Alerts)
	g.GET("/summary", h.Summary)
}

func (h *CoherenceEchoHandler) Health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if h.store != nil {
		if err := h.store.Health(c.Request().Context()); err != nil {
			status["status"] = "degraded"
			status["result_store"] = err.Error()
		}
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *CoherenceEchoHandler) Process(c echo.Context) error {
	req := &models.PointRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.proc.Process(c.Request().Context(), req.Point(h.now().UTC()))
	if res == nil {
		return h.fail(c, "process", err)
	}
	if err != nil {
		h.logger.Warn("result sinks failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *CoherenceEchoHandler) Latest(c echo.Context) error {
	req := &models.SymbolQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.latest != nil {
		res, err := h.latest.GetLatest(c.Request().Context(), req.Symbol)
		if err == nil {
			return xhttp.SuccessResponse(c, res)
		}
		if !errors.Is(err, domrepo.ErrNotFound) {
			h.logger.Warn("latest cache read failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
	}

	if integ, ok := h.integrator(req.Symbol); ok {
		if res, ok := integ.Latest(); ok {
			return xhttp.SuccessResponse(c, res)
		}
	}
	return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no result for %s", req.Symbol))
}

func (h *CoherenceEchoHandler) History(c echo.Context) error {
	req := &models.HistoryQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.store == nil {
		integ, ok := h.integrator(req.Symbol)
		if !ok {
			return xhttp.ListResponse(c, []*models.EnhancedCoherenceResult{}, 0)
		}
		rows := integ.Results(req.Limit)
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	}

	now := h.now().UTC()
	from, err := parseTime(req.From, now.Add(-24*time.Hour))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("from", "from must be RFC3339"))
	}
	to, err := parseTime(req.To, now)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("to", "to must be RFC3339"))
	}

	rows, err := h.store.QueryResults(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("result store unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *CoherenceEchoHandler) Analyze(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := h.now().UTC()
	points := make([]models.MarketDataPoint, len(req.Points))
	for i, p := range req.Points {
		points[i] = p.Point(now)
	}

	preds, err := h.analyzer.Analyze(c.Request().Context(), points)
	if err != nil {
		return h.fail(c, "analyze", err)
	}
	if preds == nil {
		preds = []*models.MarketPrediction{}
	}
	return xhttp.ListResponse(c, preds, int64(len(preds)))
}

func (h *CoherenceEchoHandler) SubmitJob(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue disabled"))
	}
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := h.now().UTC()
	points := make([]models.MarketDataPoint, len(req.Points))
	for i, p := range req.Points {
		points[i] = p.Point(now)
	}

	job, err := h.jobs.Submit(c.Request().Context(), points)
	if err != nil {
		h.logger.Error("job submit failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue unavailable").WithError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, job)
}

func (h *CoherenceEchoHandler) GetJob(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue disabled"))
	}
	req := &models.JobQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	job, err := h.jobs.Get(c.Request().Context(), req.ID)
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no job %s", req.ID))
	}
	if err != nil {
		return h.fail(c, "get job", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *CoherenceEchoHandler) LatestPrediction(c echo.Context) error {
	req := &models.SymbolQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pred, ok := h.analyzer.Latest(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no prediction for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, pred)
}

func (h *CoherenceEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	integ, err := h.analyzer.Integrator(req.Symbol)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	steps := req.Steps
	if steps == 0 {
		steps = integ.Config().Reservoir.PredictionHorizon
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":      req.Symbol,
		"steps":       steps,
		"predictions": integ.Predict(req.Series, steps),
	})
}

func (h *CoherenceEchoHandler) ReservoirState(c echo.Context) error {
	req := &models.SymbolQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	integ, ok := h.integrator(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no session for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":      req.Symbol,
		"reservoir":   integ.ReservoirState(),
		"performance": integ.Summary(),
	})
}

func (h *CoherenceEchoHandler) Snapshot(c echo.Context) error {
	req := &models.SymbolQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.analyzer.Snapshot(req.Symbol)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no session for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, snap)
}

// Export returns the integrator state with recent results and the full engine snapshot.
func (h *CoherenceEchoHandler) Export(c echo.Context) error {
	req := &models.SymbolQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	integ, ok := h.integrator(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no session for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, integ.ExportState())
}

func (h *CoherenceEchoHandler) Alerts(c echo.Context) error {
	req := &models.AlertsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	alerts := h.analyzer.Alerts(req.Symbol, req.Limit)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *CoherenceEchoHandler) Summary(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.analyzer.Summary())
}

// integrator looks up an existing session without creating one.
func (h *CoherenceEchoHandler) integrator(symbol string) (*integrator.Integrator, bool) {
	return h.analyzer.Lookup(symbol)
}

func (h *CoherenceEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, analyzer.ErrUnknownSymbol):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("symbol", "%v", err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, "request cancelled")
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}
