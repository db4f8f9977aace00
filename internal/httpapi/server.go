package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"listen_engine/internal/config"
	"listen_engine/internal/engine"
	"listen_engine/internal/logbus"
	"listen_engine/internal/model"
	"listen_engine/internal/notify"
	"listen_engine/internal/pool"
	"listen_engine/internal/store/sqlite"
	"listen_engine/internal/ws"
)

const maxBodyBytes = 4 << 20

type Options struct {
	Cfg      config.Config
	Bus      *logbus.Bus
	Store    *sqlite.Store
	Engine   *engine.Engine
	Notifier notify.Notifier

	Accounts *pool.AccountPool
	Proxies  *pool.ProxyPool
	Tasks    *pool.TaskPool
}

type Server struct {
	cfg      config.Config
	bus      *logbus.Bus
	store    *sqlite.Store
	engine   *engine.Engine
	notif    notify.Notifier
	accounts *pool.AccountPool
	proxies  *pool.ProxyPool
	tasks    *pool.TaskPool
	ws       *ws.Handler
	commands map[string]commandHandler
}

func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Cfg,
		bus:      opts.Bus,
		store:    opts.Store,
		engine:   opts.Engine,
		notif:    opts.Notifier,
		accounts: opts.Accounts,
		proxies:  opts.Proxies,
		tasks:    opts.Tasks,
		ws:       ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
	s.commands = s.commandRegistry()
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/command", s.handleCommand)
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/v1/proxies", s.handleProxies)
	api.HandleFunc("/api/v1/tasks", s.handleTasks)
	api.HandleFunc("/api/v1/listener/status", s.handleListenerStatus)
	api.HandleFunc("/api/v1/listener/start", s.handleListenerStart)
	api.HandleFunc("/api/v1/listener/stop", s.handleListenerStop)
	api.HandleFunc("/api/v1/authorization/status", s.handleAuthorizationStatus)
	api.HandleFunc("/api/v1/authorization/start", s.handleAuthorizationStart)
	api.HandleFunc("/api/v1/authorization/stop", s.handleAuthorizationStop)
	api.HandleFunc("/api/v1/validate", s.handleValidate)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.accounts.Snapshot()})
	case http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
			return
		}
		result := s.accounts.AddText(body.Text)
		s.persist(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": result})
	case http.MethodDelete:
		q := r.URL.Query()
		switch {
		case q.Get("invalid") == "1":
			removed := s.accounts.DeleteInvalid()
			s.persist(r)
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"removed": removed}})
		case q.Get("key") != "":
			if !s.accounts.Delete(q.Get("key")) {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "account not found"})
				return
			}
			s.persist(r)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			s.accounts.Clear()
			s.persist(r)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.proxies.Snapshot()})
	case http.MethodPost:
		var body struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		typ := model.ProxyType(strings.ToLower(strings.TrimSpace(body.Type)))
		if typ != model.ProxyTypeHTTP && typ != model.ProxyTypeSOCKS {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unknown proxy type %q", body.Type)})
			return
		}
		result := s.proxies.AddText(typ, body.Text)
		s.persist(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": result})
	case http.MethodDelete:
		removed := s.proxies.DeleteInvalid()
		s.persist(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"removed": removed}})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"tasks":   s.tasks.Snapshot(),
		"history": s.tasks.History(),
	}})
}

func (s *Server) handleListenerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.ListenerStatus()})
}

func (s *Server) handleListenerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if err := s.engine.StartListener(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.ListenerStatus()})
}

func (s *Server) handleListenerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	s.engine.StopListener()
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.ListenerStatus()})
}

func (s *Server) handleAuthorizationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.AuthorizationStatus()})
}

func (s *Server) handleAuthorizationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if err := s.engine.StartAuthorization(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.AuthorizationStatus()})
}

func (s *Server) handleAuthorizationStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	s.engine.StopAuthorization()
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.AuthorizationStatus()})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	force := r.URL.Query().Get("force") == "1"
	report, err := s.engine.Validate(r.Context(), force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": report})
}

func (s *Server) persist(r *http.Request) {
	s.persistCtx(r.Context())
}

func writeError(w http.ResponseWriter, err error) {
	var required *engine.DataRequiredError
	if errors.As(err, &required) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": required.Error(),
			"flags": required.Flags,
		})
		return
	}
	if errors.Is(err, engine.ErrValidationRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	if errors.Is(err, pool.ErrTaskNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
