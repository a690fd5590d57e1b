package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Ingenimax/workflow-engine/pkg/engine"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/runstore"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

const maxBodyBytes = 1 << 20

// Engine is the part of the workflow engine served over HTTP
type Engine interface {
	FireManual(ctx context.Context, workflowID string, payload interface{}) (string, error)
	FireTrigger(ctx context.Context, workflowID, triggerID string, payload interface{}) (string, error)
	FireEvent(ctx context.Context, name string, payload interface{}) ([]string, error)
	GetRun(ctx context.Context, runID string) (*workflow.Run, error)
	Wait(ctx context.Context, runID string) (*workflow.Run, error)
	Cancel(ctx context.Context, runID string) error
	Validate(def *workflow.Definition) (*workflow.ValidatedGraph, error)
	ActiveRuns() int
}

// HTTPServer exposes trigger dispatch and run inspection over HTTP
type HTTPServer struct {
	engine       Engine
	runs         runstore.Lister
	port         int
	server       *http.Server
	logger       logging.Logger
	pollInterval time.Duration
}

// Option configures an HTTPServer
type Option func(*HTTPServer)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(h *HTTPServer) {
		h.logger = logger
	}
}

// WithRunLister enables GET /api/v1/runs
func WithRunLister(runs runstore.Lister) Option {
	return func(h *HTTPServer) {
		h.runs = runs
	}
}

// WithPollInterval sets how often run streams check for progress
func WithPollInterval(d time.Duration) Option {
	return func(h *HTTPServer) {
		h.pollInterval = d
	}
}

// RunRequest is the body of POST /api/v1/workflows/{id}/run
type RunRequest struct {
	TriggerID string      `json:"triggerId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Wait      bool        `json:"wait,omitempty"`
}

// RunResponse is returned when a run is started
type RunResponse struct {
	RunID string        `json:"runId"`
	Run   *workflow.Run `json:"run,omitempty"`
}

// EventResponse is returned by POST /api/v1/events/{name}
type EventResponse struct {
	RunIDs []string `json:"runIds"`
	Errors string   `json:"errors,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error      string          `json:"error"`
	GraphError *GraphErrorBody `json:"graphError,omitempty"`
}

// GraphErrorBody is the wire form of a workflow.GraphError
type GraphErrorBody struct {
	Kind    workflow.GraphErrorKind `json:"kind"`
	NodeID  string                  `json:"nodeId,omitempty"`
	EdgeID  string                  `json:"edgeId,omitempty"`
	Path    []string                `json:"path,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// ValidateResponse is returned by POST /api/v1/workflows/validate
type ValidateResponse struct {
	Valid    bool          `json:"valid"`
	Triggers []TriggerPlan `json:"triggers,omitempty"`
}

// TriggerPlan lists the nodes a trigger reaches in topological order
type TriggerPlan struct {
	ID    string            `json:"id"`
	Type  workflow.NodeType `json:"type"`
	Order []string          `json:"order"`
}

// RunEvent is streamed by GET /api/v1/runs/{id}/stream
type RunEvent struct {
	Run       *workflow.Run `json:"run"`
	IsFinal   bool          `json:"is_final"`
	Timestamp int64         `json:"timestamp"`
}

// NewHTTPServer creates a server for the engine
func NewHTTPServer(e Engine, port int, opts ...Option) *HTTPServer {
	h := &HTTPServer{
		engine:       e,
		port:         port,
		logger:       logging.NewNop(),
		pollInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the routed handler, wrapped with CORS
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /api/v1/workflows/validate", h.handleValidate)
	mux.HandleFunc("POST /api/v1/workflows/{id}/run", h.handleRun)
	mux.HandleFunc("POST /api/v1/events/{name}", h.handleEvent)
	mux.HandleFunc("GET /api/v1/runs", h.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", h.handleStreamRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", h.handleCancel)
	return h.addCORS(mux)
}

// Start starts the HTTP server and blocks until it stops
func (h *HTTPServer) Start() error {
	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.port),
		Handler:      h.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // run streams and wait=true requests
		IdleTimeout:  60 * time.Second,
	}

	h.logger.Info(context.Background(), "HTTP server starting", map[string]interface{}{
		"port": h.port,
	})

	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

// addCORS adds CORS headers to allow browser access
func (h *HTTPServer) addCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"active_runs": h.engine.ActiveRuns(),
		"time":        time.Now().Unix(),
	})
}

func (h *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	workflowID := r.PathValue("id")
	var (
		runID string
		err   error
	)
	if req.TriggerID != "" {
		runID, err = h.engine.FireTrigger(r.Context(), workflowID, req.TriggerID, req.Payload)
	} else {
		runID, err = h.engine.FireManual(r.Context(), workflowID, req.Payload)
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.logger.Info(r.Context(), "Run started via HTTP API", map[string]interface{}{
		"workflow_id": workflowID,
		"run_id":      runID,
	})

	if !req.Wait {
		h.writeJSON(w, http.StatusAccepted, RunResponse{RunID: runID})
		return
	}

	run, err := h.engine.Wait(r.Context(), runID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, RunResponse{RunID: runID, Run: run})
}

func (h *HTTPServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload interface{}
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	runIDs, err := h.engine.FireEvent(r.Context(), r.PathValue("name"), payload)
	if err != nil && len(runIDs) == 0 {
		h.writeEngineError(w, err)
		return
	}

	resp := EventResponse{RunIDs: runIDs}
	if resp.RunIDs == nil {
		resp.RunIDs = []string{}
	}
	if err != nil {
		resp.Errors = err.Error()
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusNotImplemented, errors.New("run listing is not available"))
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("workflowId"), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if runs == nil {
		runs = []*workflow.Run{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := h.engine.Cancel(r.Context(), runID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}

func (h *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := decodeBody(w, r, &def); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	graph, err := h.engine.Validate(&def)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := ValidateResponse{Valid: true}
	for _, t := range graph.Triggers() {
		resp.Triggers = append(resp.Triggers, TriggerPlan{ID: t.ID, Type: t.Type, Order: graph.TopologicalOrder(t.ID)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleStreamRun sends the run as Server-Sent Events each time it changes,
// ending with a final event once it reaches a terminal status
func (h *HTTPServer) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	run, err := h.engine.GetRun(ctx, runID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last string
	for {
		fingerprint := runFingerprint(run)
		final := run.Status.Terminal()
		if fingerprint != last || final {
			h.sendSSEEvent(w, flusher, "run", RunEvent{Run: run, IsFinal: final})
			last = fingerprint
		}
		if final {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		run, err = h.engine.GetRun(ctx, runID)
		if err != nil {
			h.sendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
	}
}

// runFingerprint changes whenever the status or any log entry changes
func runFingerprint(run *workflow.Run) string {
	b, _ := json.Marshal(struct {
		Status workflow.RunStatus `json:"s"`
		Logs   []workflow.RunLog  `json:"l"`
	}{run.Status, run.Logs})
	return string(b)
}

// sendSSEEvent sends a Server-Sent Event
func (h *HTTPServer) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	if ev, ok := data.(RunEvent); ok {
		ev.Timestamp = time.Now().UnixMilli()
		data = ev
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		_, _ = fmt.Fprintf(w, "event: error\ndata: {\"error\": \"Failed to marshal event data\"}\n\n")
		flusher.Flush()
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", eventType)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", string(jsonData))
	flusher.Flush()
}

// writeEngineError maps engine and validation errors to status codes
func (h *HTTPServer) writeEngineError(w http.ResponseWriter, err error) {
	var graphErr *workflow.GraphError
	switch {
	case errors.As(err, &graphErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			GraphError: &GraphErrorBody{
				Kind:    graphErr.Kind,
				NodeID:  graphErr.NodeID,
				EdgeID:  graphErr.EdgeID,
				Path:    graphErr.Path,
				Message: graphErr.Message,
			},
		})
	case errors.Is(err, engine.ErrWorkflowNotFound), errors.Is(err, engine.ErrRunNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrNoMatchingTrigger):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, engine.ErrRunFinished):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrEngineClosed):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, err)
	default:
		h.logger.Error(context.Background(), "Request failed", map[string]interface{}{
			"error": err.Error(),
		})
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
