package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/orchestrator"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/runs"
	"github.com/mohammad-safakhou/proposer/internal/runtime"
)

// fakeRunner finishes immediately with a two-section draft, or blocks until
// cancelled when block is set.
type fakeRunner struct {
	block bool
}

func (f fakeRunner) Run(ctx context.Context, req proposal.Request, opts ...orchestrator.RunOption) (*orchestrator.Result, error) {
	emit := orchestrator.EmitterOf(opts...)
	_ = emit.Emit(ctx, events.Event{RunID: req.ID, Seq: 1, Stage: "PLANNING", Status: events.StatusStarted})
	if f.block {
		<-ctx.Done()
		_ = emit.Emit(context.WithoutCancel(ctx), events.Event{RunID: req.ID, Seq: 2, Stage: "CANCELLED", Status: events.StatusCancelled})
		return &orchestrator.Result{RunID: req.ID, Outcome: orchestrator.OutcomeCancelled}, orchestrator.ErrCancelled
	}
	_ = emit.Emit(ctx, events.Event{RunID: req.ID, Seq: 2, Stage: "DONE", Status: events.StatusCompleted})
	outline := proposal.Outline{ProposalType: proposal.Grant, Sections: []proposal.Section{{Title: "Executive Summary"}, {Title: "Budget"}}}
	draft := proposal.Draft{Version: 1, Sections: []proposal.SectionText{
		{Title: "Executive Summary", Text: "Community **solar** for all."},
		{Title: "Budget", Text: "Panels cost $10."},
	}}
	return &orchestrator.Result{RunID: req.ID, Outcome: orchestrator.OutcomeAccepted, Draft: &draft, Outline: &outline, Iterations: 1}, nil
}

type fakeArchive map[string][]events.Event

func (f fakeArchive) Read(_ context.Context, runID string) ([]events.Event, error) {
	return f[runID], nil
}

func newTestServer(t *testing.T, r runs.Runner, secret string, archive EventReader) (*echo.Echo, *runs.Manager) {
	t.Helper()
	cfg := &config.Config{
		Server:        config.ServerConfig{JWTSecret: secret},
		Orchestration: config.OrchestrationConfig{AcceptanceThreshold: 7, MaxIterations: 3},
	}
	quiet := log.New(io.Discard, "", 0)
	m := runs.NewManager(r, events.NewBroker(16), config.RunsConfig{MaxActive: 4}, quiet)
	deps := Deps{Config: cfg, Runs: m, Telemetry: &runtime.Telemetry{}, Logger: quiet}
	if archive != nil {
		deps.Archive = archive
	}
	e, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, m
}

func do(e *echo.Echo, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func startRun(t *testing.T, e *echo.Echo, body string) string {
	t.Helper()
	rec := do(e, http.MethodPost, "/api/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var out CreateRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.RunID == "" {
		t.Fatalf("create body = %s (%v)", rec.Body.String(), err)
	}
	return out.RunID
}

func waitRun(t *testing.T, m *runs.Manager, id string) runs.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return run
}

func TestCreateRunAndFetchProposal(t *testing.T) {
	t.Parallel()
	e, m := newTestServer(t, fakeRunner{}, "", nil)
	id := startRun(t, e, `{"text":"Grant proposal for a community solar project","type":"grant"}`)
	waitRun(t, m, id)

	rec := do(e, http.MethodGet, "/api/runs/"+id, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"finished"`) {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/runs/"+id+"/proposal", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("proposal status = %d: %s", rec.Code, rec.Body.String())
	}
	md := rec.Body.String()
	if !strings.HasPrefix(md, "# Grant Proposal") || strings.Index(md, "Executive Summary") > strings.Index(md, "Budget") {
		t.Fatalf("markdown = %q", md)
	}
	if rec.Header().Get("X-Proposal-Version") != "1" {
		t.Fatalf("version header = %q", rec.Header().Get("X-Proposal-Version"))
	}

	rec = do(e, http.MethodGet, "/api/runs/"+id+"/proposal?format=html", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<strong>solar</strong>") {
		t.Fatalf("html = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/api/runs/"+id+"/proposal?format=pdf", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("pdf format status = %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/runs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateRunValidation(t *testing.T) {
	t.Parallel()
	e, _ := newTestServer(t, fakeRunner{}, "", nil)
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"text":`},
		{"empty text", `{"text":"  "}`},
		{"unknown type", `{"text":"x","type":"novel"}`},
		{"zero iterations", `{"text":"x","config":{"max_iterations":0}}`},
		{"threshold out of range", `{"text":"x","config":{"acceptance_threshold":11}}`},
		{"bad duration", `{"text":"x","config":{"call_timeout":"soon"}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := do(e, http.MethodPost, "/api/runs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var herr HTTPError
			if err := json.Unmarshal(rec.Body.Bytes(), &herr); err != nil || herr.Error == "" {
				t.Fatalf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestCreateRunConfigOverride(t *testing.T) {
	t.Parallel()
	e, m := newTestServer(t, fakeRunner{}, "", nil)
	id := startRun(t, e, `{"text":"solar grant","config":{"acceptance_threshold":8.5,"max_iterations":2,"call_timeout":"30s"}}`)
	run := waitRun(t, m, id)
	cfg := run.Config
	if cfg == nil {
		t.Fatalf("override not recorded")
	}
	if cfg.AcceptanceThreshold != 8.5 || cfg.MaxIterations != 2 || cfg.CallTimeout != 30*time.Second {
		t.Fatalf("config = %+v", *cfg)
	}
	if cfg.FlagThreshold != 8.5 || cfg.MaxAttempts != 3 {
		t.Fatalf("defaults not applied: %+v", *cfg)
	}
}

func TestProposalBeforeFinishAndCancel(t *testing.T) {
	t.Parallel()
	e, m := newTestServer(t, fakeRunner{block: true}, "", nil)
	id := startRun(t, e, `{"text":"solar grant"}`)

	if rec := do(e, http.MethodGet, "/api/runs/"+id+"/proposal", ""); rec.Code != http.StatusConflict {
		t.Fatalf("unfinished proposal status = %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/api/runs/"+id, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	run := waitRun(t, m, id)
	if run.Outcome != orchestrator.OutcomeCancelled {
		t.Fatalf("outcome = %s", run.Outcome)
	}
	if rec := do(e, http.MethodDelete, "/api/runs/"+id, ""); rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/runs/"+id+"/proposal", ""); rec.Code != http.StatusConflict {
		t.Fatalf("cancelled proposal status = %d", rec.Code)
	}
}

func TestUnknownRun(t *testing.T) {
	t.Parallel()
	e, _ := newTestServer(t, fakeRunner{}, "", nil)
	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/proposal", "/api/runs/nope/events"} {
		if rec := do(e, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
	if rec := do(e, http.MethodDelete, "/api/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func parseSSE(t *testing.T, body string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestStreamReplaysFinishedRun(t *testing.T) {
	t.Parallel()
	e, m := newTestServer(t, fakeRunner{}, "", nil)
	id := startRun(t, e, `{"text":"solar grant"}`)
	waitRun(t, m, id)

	rec := do(e, http.MethodGet, "/api/runs/"+id+"/events", "")
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "text/event-stream" {
		t.Fatalf("stream = %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	evs := parseSSE(t, rec.Body.String())
	if len(evs) != 2 || evs[0].Seq != 1 || evs[1].Stage != "DONE" {
		t.Fatalf("events = %+v", evs)
	}
	if !strings.Contains(rec.Body.String(), "id: 2\nevent: step\n") {
		t.Fatalf("missing sse framing: %q", rec.Body.String())
	}
}

func TestStreamFollowsLiveRun(t *testing.T) {
	t.Parallel()
	e, m := newTestServer(t, fakeRunner{block: true}, "", nil)
	srv := httptest.NewServer(e)
	defer srv.Close()
	id := startRun(t, e, `{"text":"solar grant"}`)

	resp, err := http.Get(srv.URL + "/api/runs/" + id + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = m.Cancel(id)
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	evs := parseSSE(t, string(raw))
	if len(evs) != 2 || evs[1].Stage != "CANCELLED" {
		t.Fatalf("events = %+v", evs)
	}
}

// burstRunner emits n step events as fast as it can once release closes.
type burstRunner struct {
	release chan struct{}
	n       int
}

func (b burstRunner) Run(ctx context.Context, req proposal.Request, opts ...orchestrator.RunOption) (*orchestrator.Result, error) {
	emit := orchestrator.EmitterOf(opts...)
	_ = emit.Emit(ctx, events.Event{RunID: req.ID, Seq: 1, Stage: "PLANNING", Status: events.StatusStarted})
	<-b.release
	for i := 2; i <= b.n; i++ {
		_ = emit.Emit(ctx, events.Event{RunID: req.ID, Seq: int64(i), Stage: "RESEARCHING", Status: events.StatusCompleted})
	}
	_ = emit.Emit(ctx, events.Event{RunID: req.ID, Seq: int64(b.n + 1), Stage: "DONE", Status: events.StatusCompleted})
	d := proposal.Draft{Version: 1}
	return &orchestrator.Result{RunID: req.ID, Outcome: orchestrator.OutcomeAccepted, Draft: &d}, nil
}

func TestStreamSurvivesSlowSubscriberDrop(t *testing.T) {
	t.Parallel()
	quiet := log.New(io.Discard, "", 0)
	release := make(chan struct{})
	// a one-event buffer makes the broker drop the stream during the burst
	m := runs.NewManager(burstRunner{release: release, n: 200}, events.NewBroker(1), config.RunsConfig{}, quiet)
	e, err := New(Deps{Config: &config.Config{}, Runs: m, Telemetry: &runtime.Telemetry{}, Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(e)
	defer srv.Close()
	id := startRun(t, e, `{"text":"solar grant"}`)

	resp, err := http.Get(srv.URL + "/api/runs/" + id + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	evs := parseSSE(t, string(raw))
	if len(evs) != 201 {
		t.Fatalf("received %d events, want 201", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
	if !evs[len(evs)-1].Terminal() {
		t.Fatalf("stream ended without the terminal event: %+v", evs[len(evs)-1])
	}
}

func TestStreamFallsBackToArchive(t *testing.T) {
	t.Parallel()
	archive := fakeArchive{"old": {
		{RunID: "old", Seq: 1, Stage: "PLANNING", Status: events.StatusStarted},
		{RunID: "old", Seq: 2, Stage: "DONE", Status: events.StatusCompleted},
	}}
	e, _ := newTestServer(t, fakeRunner{}, "", archive)
	rec := do(e, http.MethodGet, "/api/runs/old/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if evs := parseSSE(t, rec.Body.String()); len(evs) != 2 {
		t.Fatalf("events = %+v", evs)
	}
	if rec := do(e, http.MethodGet, "/api/runs/missing/events", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing archive status = %d", rec.Code)
	}
}

func TestAPIRequiresTokenWhenSecretSet(t *testing.T) {
	t.Parallel()
	e, _ := newTestServer(t, fakeRunner{}, "s3cret", nil)
	if rec := do(e, http.MethodPost, "/api/runs", `{"text":"solar grant"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	readOnly, err := runtime.SignJWT("viewer", []byte("s3cret"), time.Hour, ScopeRunsRead)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	if rec := do(e, http.MethodPost, "/api/runs", `{"text":"solar grant"}`, "Authorization", "Bearer "+readOnly); rec.Code != http.StatusForbidden {
		t.Fatalf("read-only create status = %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/runs", "", "Authorization", "Bearer "+readOnly); rec.Code != http.StatusOK {
		t.Fatalf("read-only list status = %d", rec.Code)
	}
	tok, err := runtime.SignJWT("ops", []byte("s3cret"), time.Hour, ScopeRunsRead, ScopeRunsWrite)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	if rec := do(e, http.MethodPost, "/api/runs", `{"text":"solar grant"}`, "Authorization", "Bearer "+tok); rec.Code != http.StatusAccepted {
		t.Fatalf("authorized status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
