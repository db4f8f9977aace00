package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"listen_engine/internal/captcha"
	"listen_engine/internal/config"
	"listen_engine/internal/logbus"
	"listen_engine/internal/model"
	"listen_engine/internal/notify"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
	"listen_engine/internal/store/sqlite"
	"listen_engine/internal/transport"
)

// DataRequiredError refuses an operation until the named resources exist.
type DataRequiredError struct {
	Flags model.DataFlag
}

func (e *DataRequiredError) Error() string {
	return fmt.Sprintf("missing required data: %s", e.Flags)
}

// ErrValidationRunning refuses sweep starts while a validation pass holds the
// pools.
var ErrValidationRunning = errors.New("validation sweep in progress")

type Options struct {
	Store    *sqlite.Store
	Bus      *logbus.Bus
	Client   *platform.Client
	Solver   captcha.Solver
	Notifier notify.Notifier

	Accounts *pool.AccountPool
	Proxies  *pool.ProxyPool
	Tasks    *pool.TaskPool
	Checker  *pool.Checker

	Limits   config.LimitsConfig
	Listener config.ListenerConfig
	Proxy    config.ProxyConfig
	Timeout  time.Duration
}

// Engine coordinates the three sweeps: validation, authorization and the
// listen scheduler. Pools are the shared state; the engine owns the
// per-account runtime (sessions, limiters, cursors) that never persists.
type Engine struct {
	store    *sqlite.Store
	bus      *logbus.Bus
	client   *platform.Client
	solver   captcha.Solver
	notifier notify.Notifier

	accounts *pool.AccountPool
	proxies  *pool.ProxyPool
	tasks    *pool.TaskPool
	checker  *pool.Checker

	limits      config.LimitsConfig
	listenerCfg config.ListenerConfig
	proxyCfg    config.ProxyConfig
	timeout     time.Duration

	globalLimiter *rate.Limiter

	mu            sync.Mutex
	perLimiter    map[string]*rate.Limiter
	accountLocks  map[string]chan struct{}
	sessions      map[string]*transport.Session
	proxyFailures map[string]int

	validator     validatorState
	authenticator authenticatorState
	listener      listenerState
}

func New(opts Options) *Engine {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	e := &Engine{
		store:    opts.Store,
		bus:      opts.Bus,
		client:   opts.Client,
		solver:   opts.Solver,
		notifier: notifier,

		accounts: opts.Accounts,
		proxies:  opts.Proxies,
		tasks:    opts.Tasks,
		checker:  opts.Checker,

		limits:      opts.Limits,
		listenerCfg: opts.Listener,
		proxyCfg:    opts.Proxy,
		timeout:     timeout,

		globalLimiter: rate.NewLimiter(rate.Limit(opts.Limits.GlobalQPS), opts.Limits.GlobalBurst),
		perLimiter:    make(map[string]*rate.Limiter),
		accountLocks:  make(map[string]chan struct{}),
		sessions:      make(map[string]*transport.Session),
		proxyFailures: make(map[string]int),
	}
	e.listener.states = make(map[string]*accountState)
	return e
}

func (e *Engine) notify(code model.NotificationCode, payload any) {
	if e.bus != nil {
		e.bus.Notify(code, payload)
	}
}

// raiseDataRequired reports a missing-resource condition on both channels:
// the bus for the UI stream and the notifier for out-of-process delivery.
func (e *Engine) raiseDataRequired(flags model.DataFlag) {
	e.notify(model.NotifyDataRequired, map[string]any{"flags": flags})
	e.notifier.DataRequired(flags)
}

func (e *Engine) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}

// limiterFor returns the per-account rate limiter, creating it on first use.
func (e *Engine) limiterFor(key string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	limiter, ok := e.perLimiter[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(e.limits.PerAccountQPS), e.limits.PerAccountBurst)
		e.perLimiter[key] = limiter
	}
	return limiter
}

// lockFor returns the account's work slot. Holding the slot means the holder
// is the only goroutine touching that account.
func (e *Engine) lockFor(key string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.accountLocks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		e.accountLocks[key] = lock
	}
	return lock
}

// sessionFor returns the account's live session, building one from the
// stored cookies when the account has none yet.
func (e *Engine) sessionFor(account *model.Account) (*transport.Session, error) {
	e.mu.Lock()
	session, ok := e.sessions[account.Key()]
	e.mu.Unlock()
	if ok {
		return session, nil
	}

	session, err := transport.New(transport.Options{
		Agent:   account.Agent,
		Proxy:   account.Proxy,
		Timeout: e.timeout,
	})
	if err != nil {
		return nil, err
	}
	session.ImportCookies(account.Cookies)

	e.mu.Lock()
	e.sessions[account.Key()] = session
	e.mu.Unlock()
	return session, nil
}

// dropSession discards an account's session so the next use rebuilds it.
func (e *Engine) dropSession(key string) {
	e.mu.Lock()
	delete(e.sessions, key)
	e.mu.Unlock()
}

// noteProxyFailure counts a connection failure against the account's proxy.
// A proxy that keeps failing is marked invalid so the next validation sweep
// replaces it everywhere.
func (e *Engine) noteProxyFailure(account *model.Account) {
	if account.Proxy == nil {
		return
	}
	key := account.Proxy.String()

	e.mu.Lock()
	e.proxyFailures[key]++
	failures := e.proxyFailures[key]
	e.mu.Unlock()

	if failures >= e.listenerCfg.ProxyFailureCap {
		account.Proxy.Valid = false
		e.log("warn", "proxy exceeded failure cap, marked invalid", map[string]any{
			"proxy":    key,
			"failures": failures,
		})
	}
}

func (e *Engine) systemProxy() *model.Proxy {
	if e.proxyCfg.System == "" {
		return nil
	}
	proxy, err := model.ParseProxyLine(model.ProxyTypeHTTP, e.proxyCfg.System)
	if err != nil {
		return nil
	}
	return proxy
}

// CheckConnection probes platform reachability over the system route.
func (e *Engine) CheckConnection(ctx context.Context) pool.CheckResult {
	e.notify(model.NotifyConnectionCheckStart, nil)
	result := e.checker.Check(ctx, e.systemProxy())
	e.notify(model.NotifyConnectionCheckStop, result)
	return result
}

const runtimeSettingKey = "engine-runtime"

// runtimeSetting is the slice of engine state that survives restarts outside
// the pools.
type runtimeSetting struct {
	LastValidation int64 `json:"lastValidation"`
}

// RestoreRuntime loads persisted runtime state, so a restart does not rerun
// a validation sweep that just finished.
func (e *Engine) RestoreRuntime(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	var rs runtimeSetting
	found, err := e.store.LoadSetting(ctx, runtimeSettingKey, &rs)
	if err != nil || !found {
		return err
	}
	e.validator.lastRun.Store(rs.LastValidation)
	return nil
}

// Persist flushes every pool snapshot so a crash resumes from current state.
func (e *Engine) Persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.ReplaceAccounts(ctx, e.accounts.Snapshot()); err != nil {
		return err
	}
	if err := e.store.ReplaceProxies(ctx, e.proxies.Snapshot()); err != nil {
		return err
	}
	if err := e.store.ReplaceTasks(ctx, e.tasks.Snapshot(), e.tasks.History()); err != nil {
		return err
	}
	return e.store.SaveSetting(ctx, runtimeSettingKey, runtimeSetting{
		LastValidation: e.validator.lastRun.Load(),
	})
}

func (e *Engine) persistQuietly(ctx context.Context) {
	if err := e.Persist(ctx); err != nil {
		e.log("warn", "state flush failed", map[string]any{"error": err.Error()})
	}
}

// Shutdown stops every sweep and flushes state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.StopListener()
	e.StopAuthorization()
	return e.Persist(ctx)
}
