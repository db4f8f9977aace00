package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listen_engine/internal/config"
	"listen_engine/internal/logbus"
	"listen_engine/internal/model"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
	"listen_engine/internal/store/sqlite"
)

// sweepServer doubles as the probe target and the proxy under test: it
// answers the absolute-URI request a proxied client sends as well as the
// direct one.
func sweepServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user_info" {
			if _, err := r.Cookie("remixsid"); err == nil {
				fmt.Fprint(w, `{"user":{"id":42}}`)
				return
			}
			fmt.Fprint(w, `{}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func upstreamProxy(t *testing.T, server *httptest.Server) model.Proxy {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return model.Proxy{Type: model.ProxyTypeHTTP, Address: u.Hostname(), Port: port}
}

func validatorEngine(t *testing.T, target string, accounts []model.Account, proxies []model.Proxy) (*Engine, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	e := New(Options{
		Bus:      logbus.New(64),
		Client:   platform.NewClient(platform.Endpoints{BaseURL: target, MobileBaseURL: target, StorageBaseURL: target, UserInfoURL: target + "/user_info"}),
		Notifier: notifier,
		Accounts: pool.NewAccountPool(accounts),
		Proxies:  pool.NewProxyPool(proxies),
		Tasks:    pool.NewTaskPool(nil, nil),
		Checker:  pool.NewChecker(target, 2*time.Second),
		Limits:   config.LimitsConfig{GlobalQPS: 100, GlobalBurst: 100, PerAccountQPS: 100, PerAccountBurst: 100, AuthChunkSize: 4},
		Listener: config.ListenerConfig{MinListenSec: 35},
		Timeout:  2 * time.Second,
	})
	return e, notifier
}

func requiredFlags(n *recordingNotifier) []model.DataFlag {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.DataFlag(nil), n.required...)
}

func TestValidateAbortsWithoutProxies(t *testing.T) {
	server := sweepServer(t)
	e, notifier := validatorEngine(t, server.URL,
		[]model.Account{{Login: "a", Password: "1", Valid: true}}, nil)

	report, err := e.Validate(context.Background(), true)
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataProxies, required.Flags)
	assert.True(t, report.Connection.OK)
	assert.Contains(t, requiredFlags(notifier), model.DataProxies)
}

func TestValidateAbortsWithoutAccounts(t *testing.T) {
	server := sweepServer(t)
	e, notifier := validatorEngine(t, server.URL, nil,
		[]model.Proxy{upstreamProxy(t, server)})

	report, err := e.Validate(context.Background(), true)
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataAccounts, required.Flags)

	require.NotNil(t, report.Proxies)
	assert.Equal(t, 1, report.Proxies.SuccessCount)
	assert.Contains(t, requiredFlags(notifier), model.DataAccounts)
}

func TestValidateAssignsProxiesAndPurgesInvalidAccounts(t *testing.T) {
	server := sweepServer(t)
	e, _ := validatorEngine(t, server.URL,
		[]model.Account{
			{Login: "a", Password: "1", Valid: true},
			{Login: "b", Password: "2", Valid: false},
		},
		[]model.Proxy{upstreamProxy(t, server)})

	report, err := e.Validate(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, report.Connection.OK)
	assert.Equal(t, 0, report.ProxiesPurged)
	assert.Equal(t, 2, report.AccountsAssigned)
	assert.Equal(t, 0, report.AccountsChecked)
	assert.Equal(t, 1, report.AccountsPurged)
	assert.Equal(t, 1, report.NeedAuthorization)

	require.Equal(t, 1, e.accounts.Len())
	remaining := e.accounts.Get(nil)[0]
	assert.Equal(t, "a", remaining.Login)
	require.NotNil(t, remaining.Proxy)
	assert.True(t, remaining.Proxy.Valid)

	assert.Greater(t, e.validator.lastRun.Load(), int64(0))
}

func TestValidateAccountProxiesProbeFailureCap(t *testing.T) {
	// Every candidate points at a closed local port and carries a stale
	// valid flag, so each assignment probe fails in turn.
	proxies := make([]model.Proxy, 0, 5)
	for port := 1; port <= 5; port++ {
		proxies = append(proxies, model.Proxy{
			Type: model.ProxyTypeHTTP, Address: "127.0.0.1", Port: port, Valid: true,
		})
	}
	e, notifier := validatorEngine(t, "http://127.0.0.1:1",
		[]model.Account{{Login: "a", Password: "1", Valid: true}}, proxies)

	_, err := e.validateAccountProxies(context.Background())
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataProxies, required.Flags)
	assert.Contains(t, requiredFlags(notifier), model.DataProxies)
	assert.Nil(t, e.accounts.Get(nil)[0].Proxy)
}

func TestValidateAccountSessionsReportsPerAccount(t *testing.T) {
	server := sweepServer(t)
	e, _ := validatorEngine(t, server.URL,
		[]model.Account{
			{
				Login: "good", Password: "1", Authorized: true, Valid: true,
				Cookies: []model.CookieJarEntry{{
					URL:     server.URL,
					Cookies: []model.Cookie{{Name: "remixsid", Value: "session1", Path: "/"}},
				}},
			},
			{Login: "stale", Password: "2", Authorized: true, Valid: true},
		}, nil)

	results, demoted, err := e.validateAccountSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, demoted)
	require.Len(t, results, 2)

	byLogin := make(map[string]AccountCheckResult, len(results))
	for _, result := range results {
		byLogin[result.Account] = result
	}
	assert.True(t, byLogin["good"].Status)
	assert.False(t, byLogin["stale"].Status)
	assert.NotEmpty(t, byLogin["stale"].Error)

	for _, account := range e.accounts.Get(nil) {
		switch account.Login {
		case "good":
			assert.True(t, account.Authorized)
		case "stale":
			assert.False(t, account.Authorized)
		}
	}
}

func TestRuntimeStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	newEngine := func() *Engine {
		return New(Options{
			Store:    store,
			Bus:      logbus.New(64),
			Accounts: pool.NewAccountPool(nil),
			Proxies:  pool.NewProxyPool(nil),
			Tasks:    pool.NewTaskPool(nil, nil),
			Limits:   config.LimitsConfig{GlobalQPS: 100, GlobalBurst: 100},
		})
	}

	first := newEngine()
	first.validator.lastRun.Store(1234567890)
	require.NoError(t, first.Persist(ctx))

	second := newEngine()
	require.NoError(t, second.RestoreRuntime(ctx))
	assert.Equal(t, int64(1234567890), second.validator.lastRun.Load())
}
