package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/render"
	"github.com/mohammad-safakhou/proposer/internal/runs"
)

var runsTracer = otel.Tracer("proposer/internal/server/runs")

// EventReader replays the events of runs the manager no longer holds.
// *events.StreamEmitter satisfies it.
type EventReader interface {
	Read(ctx context.Context, runID string) ([]events.Event, error)
}

// RunsHandler exposes proposal runs over HTTP.
type RunsHandler struct {
	manager  *runs.Manager
	defaults config.OrchestrationConfig
	archive  EventReader
	logger   *log.Logger
}

func NewRunsHandler(manager *runs.Manager, defaults config.OrchestrationConfig, archive EventReader, logger *log.Logger) *RunsHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &RunsHandler{manager: manager, defaults: defaults.Normalize(), archive: archive, logger: logger}
}

// Register mounts the run routes. read and write guard the read-only and
// mutating routes respectively.
func (h *RunsHandler) Register(g *echo.Group, read, write []echo.MiddlewareFunc) {
	g.POST("", h.create, write...)
	g.GET("", h.list, read...)
	g.GET("/:run_id", h.get, read...)
	g.DELETE("/:run_id", h.cancel, write...)
	g.GET("/:run_id/events", h.stream, read...)
	g.GET("/:run_id/proposal", h.proposal, read...)
}

// create starts a run in the background.
//
//	@Summary	Start a proposal run
//	@Tags		runs
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateRunRequest	true	"Run request"
//	@Success	202		{object}	CreateRunResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	429		{object}	HTTPError
//	@Router		/api/runs [post]
func (h *RunsHandler) create(c echo.Context) error {
	var body CreateRunRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json body")
	}
	req, err := body.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := body.Config.apply(h.defaults)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.manager.Start(req, cfg)
	switch {
	case errors.Is(err, runs.ErrTooManyRuns):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: id})
}

func (h *RunsHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.List())
}

func (h *RunsHandler) get(c echo.Context) error {
	run, err := h.manager.Get(c.Param("run_id"))
	if err != nil {
		return notFound(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) cancel(c echo.Context) error {
	id := c.Param("run_id")
	switch err := h.manager.Cancel(id); {
	case errors.Is(err, runs.ErrFinished):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return notFound(err)
	}
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: id})
}

// stream replays a run's step events and follows it live via Server-Sent
// Events until the terminal event.
//
//	@Summary	Run step stream
//	@Tags		runs
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	text/event-stream
//	@Success	200	{string}	string
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{run_id}/events [get]
func (h *RunsHandler) stream(c echo.Context) error {
	req := c.Request()
	runID := c.Param("run_id")
	ctx, span := runsTracer.Start(req.Context(), "RunsHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	history, live, cancel, err := h.manager.Subscribe(runID)
	if errors.Is(err, runs.ErrNotFound) && h.archive != nil {
		history, err = h.archive.Read(ctx, runID)
		if err == nil && len(history) == 0 {
			err = runs.ErrNotFound
		}
		if err != nil && !errors.Is(err, runs.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return notFound(err)
	}
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	send := func(ev events.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "id: %d\nevent: step\ndata: %s\n\n", ev.Seq, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	var last int64
	for {
		for _, ev := range history {
			if ev.Seq <= last {
				continue
			}
			if err := send(ev); err != nil {
				return nil
			}
			last = ev.Seq
			if ev.Terminal() {
				return nil
			}
		}
		if live == nil {
			return nil
		}
		if done, err := h.follow(ctx, runID, live, &last, send); done || err != nil {
			return nil
		}
		// the broker dropped this subscriber for falling behind; catch up
		cancel()
		history, live, cancel, err = h.manager.Subscribe(runID)
		if err != nil {
			cancel = nil
			h.logger.Printf("run=%s stream dropped: %v", runID, err)
			_, _ = fmt.Fprintf(resp, "event: dropped\ndata: {\"last_seq\":%d}\n\n", last)
			flusher.Flush()
			return nil
		}
		h.logger.Printf("run=%s slow stream resubscribed after seq %d", runID, last)
	}
}

// follow forwards live events past *last until the terminal event (done),
// the client goes away (done), a write fails (err), or the channel closes
// early (neither).
func (h *RunsHandler) follow(ctx context.Context, runID string, live <-chan events.Event, last *int64, send func(events.Event) error) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-live:
			if !ok {
				return false, nil
			}
			// skip anything already replayed
			if ev.Seq <= *last {
				continue
			}
			if err := send(ev); err != nil {
				h.logger.Printf("run=%s stream write failed: %v", runID, err)
				return false, err
			}
			*last = ev.Seq
			if ev.Terminal() {
				return true, nil
			}
		}
	}
}

// proposal renders the final proposal of a finished run.
//
//	@Summary	Final proposal
//	@Tags		runs
//	@Param		run_id	path	string	true	"Run ID"
//	@Param		format	query	string	false	"md (default) or html"
//	@Produce	text/markdown
//	@Produce	text/html
//	@Success	200	{string}	string
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/runs/{run_id}/proposal [get]
func (h *RunsHandler) proposal(c echo.Context) error {
	run, err := h.manager.Get(c.Param("run_id"))
	if err != nil {
		return notFound(err)
	}
	res := run.Result
	if !res.Finished() || res.Draft == nil {
		return echo.NewHTTPError(http.StatusConflict, "run has no proposal ("+string(run.Status)+")")
	}
	doc := render.Document{Request: run.Request, Draft: *res.Draft, Score: res.Score, Findings: res.Findings}
	if res.Outline != nil {
		doc.Outline = *res.Outline
	}
	c.Response().Header().Set("X-Proposal-Version", strconv.Itoa(res.Draft.Version))
	switch c.QueryParam("format") {
	case "", "md", "markdown":
		return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(render.Markdown(doc)))
	case "html":
		out, err := render.HTML(doc)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.HTML(http.StatusOK, out)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be md or html")
	}
}

func notFound(err error) error {
	if errors.Is(err, runs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
