// Package server exposes the operator and agent-runtime boundaries over
// HTTP/JSON: action verdicts, pending authorizations, the kill trigger, and
// read-only evidence export.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/alert"
	"github.com/ppiankov/swarmgate/internal/authz"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/gate"
	"github.com/ppiankov/swarmgate/internal/kill"
	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/roe"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
}

// Server is the HTTP face of the core.
type Server struct {
	cfg      Config
	pipeline *gate.Gate
	authz    *authz.Gate
	killsw   *kill.Switch
	registry *agentproc.Registry
	holder   *roe.Holder
	store    *evidence.Store
	alerts   *alert.Dispatcher

	srv *http.Server
}

// New wires the server. store and alerts may be nil.
func New(cfg Config, pipeline *gate.Gate, authzGate *authz.Gate, killsw *kill.Switch,
	registry *agentproc.Registry, holder *roe.Holder, store *evidence.Store,
	alerts *alert.Dispatcher) *Server {

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		authz:    authzGate,
		killsw:   killsw,
		registry: registry,
		holder:   holder,
		store:    store,
		alerts:   alerts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/roe", s.handleRoE)
	mux.HandleFunc("POST /v1/actions", s.handleAction)
	mux.HandleFunc("POST /v1/actions/{id}/executed", s.handleExecuted)
	mux.HandleFunc("GET /v1/authz/pending", s.handlePending)
	mux.HandleFunc("POST /v1/authz/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/authz/{id}/deny", s.handleDeny)
	mux.HandleFunc("POST /v1/kill", s.handleKill)
	mux.HandleFunc("GET /v1/kill", s.handleKillStatus)
	mux.HandleFunc("POST /v1/agents/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /v1/evidence/records", s.handleRecords)
	mux.HandleFunc("GET /v1/evidence/kills", s.handleKillEvents)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the underlying handler. For testing.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"roe_version": s.holder.Version(),
		"agents":      s.registry.Len(),
	})
}

func (s *Server) handleRoE(w http.ResponseWriter, r *http.Request) {
	snap := s.holder.Current()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no rules of engagement loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engagement": snap.Doc.Engagement,
		"aggression": snap.Doc.Aggression,
		"version":    snap.Version,
		"hash":       snap.Hash,
		"loaded_at":  snap.LoadedAt,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var action model.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action request: "+err.Error())
		return
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	decision := s.pipeline.HandleAction(r.Context(), &action)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleExecuted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action  model.ActionRequest `json:"action"`
		Emitted []string            `json:"emitted_signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Action.ID == "" {
		body.Action.ID = r.PathValue("id")
	}
	err := s.pipeline.RecordExecution(r.Context(), &body.Action, body.Emitted)
	if err != nil {
		if errors.Is(err, model.ErrDataIntegrity) {
			// Recorded but tainted: the caller must know, the run goes on.
			writeJSON(w, http.StatusOK, map[string]any{"recorded": true, "tainted": true})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.authz.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, true)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, false)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	actionID := r.PathValue("id")
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		operator = "console"
	}

	var req *authz.Request
	var err error
	if approve {
		req, err = s.authz.Approve(r.Context(), actionID, operator)
	} else {
		req, err = s.authz.Deny(r.Context(), actionID, operator)
	}

	if errors.Is(err, authz.ErrAlreadyResolved) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "already resolved",
			"request": req,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	source := model.KillSourceHuman
	if r.URL.Query().Get("source") == string(model.KillSourceAutomatic) {
		source = model.KillSourceAutomatic
	}

	event := s.killsw.Trigger(r.Context(), source)

	if s.store != nil {
		_ = s.store.InsertKillEvent(r.Context(), event)
	}

	status := http.StatusOK
	if event.TimedOut {
		status = http.StatusGatewayTimeout
		s.alerts.Dispatch(alert.Event{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Type:       alert.EventKillSwitchTimeout,
			Reason:     fmt.Sprintf("%d agent(s) unconfirmed at deadline", len(event.Unresolved)),
			Unresolved: event.Unresolved,
		})
	}
	writeJSON(w, status, event)
}

func (s *Server) handleKillStatus(w http.ResponseWriter, r *http.Request) {
	event, ok := s.killsw.Event()
	if !ok {
		writeError(w, http.StatusNotFound, "kill switch not triggered")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if !s.registry.Resume(agentID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not registered", agentID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "paused": false})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "evidence store not configured")
		return
	}
	run := model.RunID(r.URL.Query().Get("run"))
	if run == "" {
		run = model.RunCoordinated
	}
	if !model.ValidRunID(string(run)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown run id %q", run))
		return
	}
	records, err := s.store.ListByRun(r.Context(), run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run, "records": records})
}

func (s *Server) handleKillEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "evidence store not configured")
		return
	}
	events, err := s.store.ListKillEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
