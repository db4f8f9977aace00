package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"listen_engine/internal/model"
	"listen_engine/internal/pool"
)

// commandHandler executes one control-plane operation. Expected
// "nothing to do" conditions return a result, never an error.
type commandHandler func(ctx context.Context, payload json.RawMessage) (any, error)

type commandRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) commandRegistry() map[string]commandHandler {
	return map[string]commandHandler{
		"listener-status":      s.cmdListenerStatus,
		"listener-start":       s.cmdListenerStart,
		"listener-stop":        s.cmdListenerStop,
		"listener-tasks":       s.cmdListenerTasks,
		"listener-add-task":    s.cmdListenerAddTask,
		"listener-edit-task":   s.cmdListenerEditTask,
		"listener-delete-task": s.cmdListenerDeleteTask,

		"accounts-get":      s.cmdAccountsGet,
		"accounts-add":      s.cmdAccountsAdd,
		"accounts-validate": s.cmdAccountsValidate,
		"accounts-clear":    s.cmdAccountsClear,

		"proxy-get":   s.cmdProxyGet,
		"proxy-add":   s.cmdProxyAdd,
		"proxy-check": s.cmdProxyCheck,

		"authorization-status": s.cmdAuthorizationStatus,
		"authorization-start":  s.cmdAuthorizationStart,
		"authorization-stop":   s.cmdAuthorizationStop,
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req commandRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	handler, ok := s.commands[strings.TrimSpace(req.Name)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("unknown command %q", req.Name)})
		return
	}
	result, err := handler(r.Context(), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": result})
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, errors.New("payload is required")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func (s *Server) cmdListenerStatus(context.Context, json.RawMessage) (any, error) {
	return s.engine.ListenerStatus(), nil
}

func (s *Server) cmdListenerStart(context.Context, json.RawMessage) (any, error) {
	if err := s.engine.StartListener(); err != nil {
		return nil, err
	}
	return s.engine.ListenerStatus(), nil
}

func (s *Server) cmdListenerStop(context.Context, json.RawMessage) (any, error) {
	s.engine.StopListener()
	return s.engine.ListenerStatus(), nil
}

func (s *Server) cmdListenerTasks(context.Context, json.RawMessage) (any, error) {
	return map[string]any{
		"tasks":   s.tasks.Snapshot(),
		"history": s.tasks.History(),
	}, nil
}

func (s *Server) cmdListenerAddTask(ctx context.Context, payload json.RawMessage) (any, error) {
	body, err := decodePayload[struct {
		URL         string `json:"url"`
		Count       int64  `json:"count"`
		Human       bool   `json:"human"`
		FavoriteAdd bool   `json:"favoriteAdd"`
	}](payload)
	if err != nil {
		return nil, err
	}
	task, merged, err := s.engine.AddTask(ctx, body.URL, body.Count, body.Human, body.FavoriteAdd)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task, "merged": merged}, nil
}

func (s *Server) cmdListenerEditTask(ctx context.Context, payload json.RawMessage) (any, error) {
	body, err := decodePayload[struct {
		ID          string `json:"id"`
		Enabled     *bool  `json:"enabled,omitempty"`
		Human       *bool  `json:"human,omitempty"`
		FavoriteAdd *bool  `json:"favoriteAdd,omitempty"`
		Target      *int64 `json:"target,omitempty"`
	}](payload)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.Edit(body.ID, pool.EditTaskParams{
		Enabled:     body.Enabled,
		Human:       body.Human,
		FavoriteAdd: body.FavoriteAdd,
		Target:      body.Target,
	})
	if err != nil {
		return nil, err
	}
	s.persistCtx(ctx)
	return task, nil
}

func (s *Server) cmdListenerDeleteTask(ctx context.Context, payload json.RawMessage) (any, error) {
	body, err := decodePayload[struct {
		ID string `json:"id"`
	}](payload)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Delete(body.ID); err != nil {
		return nil, err
	}
	s.persistCtx(ctx)
	return map[string]any{"ok": true}, nil
}

func (s *Server) cmdAccountsGet(context.Context, json.RawMessage) (any, error) {
	return s.accounts.Snapshot(), nil
}

func (s *Server) cmdAccountsAdd(ctx context.Context, payload json.RawMessage) (any, error) {
	body, err := decodePayload[struct {
		Text string `json:"text"`
	}](payload)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body.Text) == "" {
		return nil, errors.New("text is required")
	}
	result := s.accounts.AddText(body.Text)
	s.persistCtx(ctx)
	return result, nil
}

func (s *Server) cmdAccountsValidate(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.engine.Validate(ctx, true)
}

func (s *Server) cmdAccountsClear(ctx context.Context, _ json.RawMessage) (any, error) {
	s.accounts.Clear()
	s.persistCtx(ctx)
	return map[string]any{"ok": true}, nil
}

func (s *Server) cmdProxyGet(context.Context, json.RawMessage) (any, error) {
	return s.proxies.Snapshot(), nil
}

func (s *Server) cmdProxyAdd(ctx context.Context, payload json.RawMessage) (any, error) {
	body, err := decodePayload[struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}](payload)
	if err != nil {
		return nil, err
	}
	typ := model.ProxyType(strings.ToLower(strings.TrimSpace(body.Type)))
	if typ != model.ProxyTypeHTTP && typ != model.ProxyTypeSOCKS {
		return nil, fmt.Errorf("unknown proxy type %q", body.Type)
	}
	result := s.proxies.AddText(typ, body.Text)
	s.persistCtx(ctx)
	return result, nil
}

func (s *Server) cmdProxyCheck(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.engine.CheckProxies(ctx)
}

func (s *Server) cmdAuthorizationStatus(context.Context, json.RawMessage) (any, error) {
	return s.engine.AuthorizationStatus(), nil
}

func (s *Server) cmdAuthorizationStart(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := s.engine.StartAuthorization(ctx); err != nil {
		return nil, err
	}
	return s.engine.AuthorizationStatus(), nil
}

func (s *Server) cmdAuthorizationStop(context.Context, json.RawMessage) (any, error) {
	s.engine.StopAuthorization()
	return s.engine.AuthorizationStatus(), nil
}

func (s *Server) persistCtx(ctx context.Context) {
	if err := s.engine.Persist(ctx); err != nil && s.bus != nil {
		s.bus.Log("warn", "persist failed", map[string]any{"error": err.Error()})
	}
}
