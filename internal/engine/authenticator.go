package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"listen_engine/internal/model"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
	"listen_engine/internal/transport"
)

type authenticatorState struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	done      atomic.Int64
	total     atomic.Int64
	succeeded atomic.Int64
}

// AuthorizationStatus is the control-plane view of the login sweep.
type AuthorizationStatus struct {
	Running   bool  `json:"running"`
	Total     int64 `json:"total"`
	Done      int64 `json:"done"`
	Succeeded int64 `json:"succeeded"`
}

func (e *Engine) AuthorizationStatus() AuthorizationStatus {
	e.authenticator.mu.Lock()
	running := e.authenticator.running
	e.authenticator.mu.Unlock()
	return AuthorizationStatus{
		Running:   running,
		Total:     e.authenticator.total.Load(),
		Done:      e.authenticator.done.Load(),
		Succeeded: e.authenticator.succeeded.Load(),
	}
}

// StartAuthorization logs in every valid account that has no session, in
// bounded chunks, on a background goroutine. It refuses to start during a
// validation sweep. Starting with nothing to do is not an error; it just
// reports authorization-not-required.
func (e *Engine) StartAuthorization(ctx context.Context) error {
	if e.validator.running.Load() {
		return ErrValidationRunning
	}
	if e.accounts.Len() == 0 {
		e.raiseDataRequired(model.DataAccounts)
		return &DataRequiredError{Flags: model.DataAccounts}
	}
	if e.solver == nil {
		e.raiseDataRequired(model.DataAntiCaptcha)
		return &DataRequiredError{Flags: model.DataAntiCaptcha}
	}

	pending := e.accounts.Get(&pool.AccountFilter{
		Authorized: boolPtr(false),
		Valid:      boolPtr(true),
	})
	if len(pending) == 0 {
		e.notify(model.NotifyAuthorizationNotRequired, nil)
		return nil
	}

	e.authenticator.mu.Lock()
	if e.authenticator.running {
		e.authenticator.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.authenticator.running = true
	e.authenticator.cancel = cancel
	e.authenticator.mu.Unlock()

	e.authenticator.total.Store(int64(len(pending)))
	e.authenticator.done.Store(0)
	e.authenticator.succeeded.Store(0)

	e.notify(model.NotifyAuthorizationStart, map[string]any{"total": len(pending)})
	go e.runAuthorization(runCtx, pending)
	return nil
}

func (e *Engine) StopAuthorization() {
	e.authenticator.mu.Lock()
	cancel := e.authenticator.cancel
	e.authenticator.cancel = nil
	e.authenticator.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) runAuthorization(ctx context.Context, pending []*model.Account) {
	defer func() {
		e.authenticator.mu.Lock()
		e.authenticator.running = false
		e.authenticator.cancel = nil
		e.authenticator.mu.Unlock()

		e.notify(model.NotifyAuthorizationComplete, map[string]any{
			"total":     e.authenticator.total.Load(),
			"succeeded": e.authenticator.succeeded.Load(),
		})
		e.persistQuietly(context.Background())
	}()

	chunk := e.limits.AuthChunkSize
	for offset := 0; offset < len(pending); offset += chunk {
		if ctx.Err() != nil {
			return
		}
		end := offset + chunk
		if end > len(pending) {
			end = len(pending)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, account := range pending[offset:end] {
			account := account
			group.Go(func() error {
				e.authorizeAccount(groupCtx, account)
				e.authenticator.done.Add(1)
				return nil
			})
		}
		_ = group.Wait()
	}
}

// authorizeAccount runs one login attempt on a fresh session. Terminal auth
// failures invalidate the account; connection failures leave it for the next
// sweep.
func (e *Engine) authorizeAccount(ctx context.Context, account *model.Account) {
	lock := e.lockFor(account.Key())
	select {
	case lock <- struct{}{}:
		defer func() { <-lock }()
	case <-ctx.Done():
		return
	}

	if err := e.globalLimiter.Wait(ctx); err != nil {
		return
	}

	session, err := transport.New(transport.Options{
		Agent:   account.Agent,
		Proxy:   account.Proxy,
		Timeout: e.timeout,
	})
	if err != nil {
		e.log("error", "session build failed", map[string]any{
			"account": account.String(),
			"error":   err.Error(),
		})
		return
	}

	result, err := e.client.Authorize(ctx, session, account.Login, account.Password, e.solver)
	if err != nil {
		var authErr *platform.AuthError
		if errors.As(err, &authErr) {
			account.Valid = false
			account.ClearSession()
			e.dropSession(account.Key())
			e.log("warn", "account rejected by platform", map[string]any{
				"account": account.Login,
				"code":    string(authErr.Code),
				"reason":  authErr.Message,
			})
			return
		}

		e.noteProxyFailure(account)
		e.log("warn", "account login did not complete", map[string]any{
			"account": account.Login,
			"error":   err.Error(),
		})
		return
	}

	account.Cookies = result.Cookies
	account.User = result.User
	account.Authorized = true
	account.Valid = true

	e.mu.Lock()
	e.sessions[account.Key()] = session
	e.mu.Unlock()

	e.authenticator.succeeded.Add(1)
	e.log("info", "account authorized", map[string]any{"account": account.String()})
}
