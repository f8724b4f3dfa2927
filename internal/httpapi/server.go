package httpapi

import (
	"encoding/json"
	"net/http"

	"offer_booster/internal/config"
	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
	"offer_booster/internal/ws"
)

// Scheduler is the part of the engine the status API needs.
type Scheduler interface {
	State() model.SchedulerState
	RequestRun() bool
}

type Options struct {
	Cfg       config.StatusConfig
	Accounts  []model.Account
	Bus       *logbus.Bus
	Scheduler Scheduler
}

type Server struct {
	cfg       config.StatusConfig
	accounts  []model.Account
	bus       *logbus.Bus
	scheduler Scheduler
	ws        *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:       opts.Cfg,
		accounts:  opts.Accounts,
		bus:       opts.Bus,
		scheduler: opts.Scheduler,
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/state", s.handleState)
	api.HandleFunc("/api/v1/run", s.handleRun)
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)

	mux.Handle("/api/", corsMiddleware(s.cfg.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.scheduler.State()
	if st.Phase == model.PhaseAborted {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "phase": st.Phase})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "phase": st.Phase})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.scheduler.State()})
}

// handleRun only queues the request; the scheduler picks it up on its next poll.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.scheduler.State().Phase == model.PhaseAborted {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "scheduler aborted"})
		return
	}
	queued := s.scheduler.RequestRun()
	if s.bus != nil {
		s.bus.Log("info", "run requested via api", map[string]any{"queued": queued, "remote": r.RemoteAddr})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "queued": queued})
}

type accountView struct {
	Name    string   `json:"name"`
	Missing []string `json:"missing,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	out := make([]accountView, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, accountView{Name: a.Name, Missing: a.MissingFields()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
