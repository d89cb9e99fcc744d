package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/flow"
	"loanflow/internal/middleware"
	"loanflow/internal/runs"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"
	"loanflow/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	streamQueue = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; CORS is enforced on the REST routes
	},
}

// RunService is what the run endpoints need from the run service.
type RunService interface {
	Start(ctx context.Context, req runs.StartRequest) (string, error)
	Get(ctx context.Context, runID string) (domain.FlowState, error)
	Report(ctx context.Context, runID string) (string, error)
	Subscribe(ctx context.Context, runID string, fn flow.Subscriber) (domain.FlowState, func(), bool, error)
	List(ctx context.Context, limit int) ([]domain.RunSummary, error)
	Scenarios() []flow.Scenario
}

// RunHandler serves the lending run endpoints.
type RunHandler struct {
	service   RunService
	validator *validator.Validator
	logger    logger.Logger
}

func NewRunHandler(service RunService, val *validator.Validator, log logger.Logger) *RunHandler {
	return &RunHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

func (h *RunHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"scenarios": h.service.Scenarios(),
	})
}

// StartRun accepts {"scenario": "..."} and answers 202 with the run id.
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runs.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondJSON(w, h.logger, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"fields": errs,
		})
		return
	}

	runID, err := h.service.Start(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrUnknownScenario):
		respondError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, errors.ErrRunInProgress):
		respondError(w, h.logger, http.StatusConflict, err.Error())
		return
	case errors.Is(err, errors.ErrShuttingDown):
		respondError(w, h.logger, http.StatusServiceUnavailable, err.Error())
		return
	default:
		h.logger.Error("Failed to start run", map[string]interface{}{"error": err.Error(), "scenario": req.Scenario})
		respondError(w, h.logger, http.StatusInternalServerError, "Failed to start run")
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("Run started", map[string]interface{}{
		"run_id":     runID,
		"scenario":   req.Scenario,
		"operator":   operator,
		"request_id": middleware.RequestIDFromContext(r.Context()),
	})

	w.Header().Set("Location", "/api/v1/runs/"+runID)
	respondJSON(w, h.logger, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", map[string]interface{}{"error": err.Error()})
		respondError(w, h.logger, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if list == nil {
		list = []domain.RunSummary{}
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{"runs": list})
}

func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.lookupError(w, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, st)
}

// GetReport returns the accumulated plain-text report.
func (h *RunHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.lookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report))
}

func (h *RunHandler) lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errors.ErrRunNotFound) {
		respondError(w, h.logger, http.StatusNotFound, "Run not found")
		return
	}
	h.logger.Error("Run lookup failed", map[string]interface{}{"error": err.Error()})
	respondError(w, h.logger, http.StatusInternalServerError, "Run lookup failed")
}

type snapshotMessage struct {
	Type  string           `json:"type"`
	State domain.FlowState `json:"state"`
}

// StreamEvents upgrades to a WebSocket, sends the current state as a
// "snapshot" message and then forwards every event until the run ends.
func (h *RunHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	// Resolve before upgrading so an unknown id is a plain 404.
	if _, err := h.service.Get(r.Context(), runID); err != nil {
		h.lookupError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan domain.Event, streamQueue)
	var (
		mu      sync.Mutex
		closed  bool
		dropped bool
	)
	forward := func(e domain.Event, _ domain.FlowState) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- e:
		default:
			// The client is too slow; stop rather than stall the run.
			dropped = true
			closed = true
			close(events)
		}
	}

	st, unsubscribe, live, err := h.service.Subscribe(ctx, runID, forward)
	if err != nil {
		h.logger.Error("Subscribe failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
		return
	}
	defer func() {
		unsubscribe()
		mu.Lock()
		if !closed {
			closed = true
			close(events)
		}
		mu.Unlock()
	}()

	h.logger.Info("WebSocket client connected", map[string]interface{}{"run_id": runID, "live": live})

	if err := h.write(conn, snapshotMessage{Type: "snapshot", State: st}); err != nil {
		return
	}
	if !live || st.Status.Terminal() {
		h.closeStream(conn)
		return
	}

	// Reader: only needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				mu.Lock()
				slow := dropped
				mu.Unlock()
				if slow {
					h.logger.Warn("Dropping slow event stream client", map[string]interface{}{"run_id": runID})
				}
				return
			}
			if err := h.write(conn, e); err != nil {
				h.logger.Warn("Failed to send event", map[string]interface{}{"run_id": runID, "error": err.Error()})
				return
			}
			if e.Type == domain.EventFlowComplete || e.Type == domain.EventFlowError {
				h.closeStream(conn)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *RunHandler) write(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (h *RunHandler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
