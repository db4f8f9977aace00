package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listen_engine/internal/model"
)

func proxyFromServer(t *testing.T, server *httptest.Server) *model.Proxy {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &model.Proxy{Type: model.ProxyTypeHTTP, Address: u.Hostname(), Port: port}
}

func TestCheckerDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewChecker(server.URL, 0)
	result := checker.Check(context.Background(), nil)
	assert.True(t, result.OK)
	assert.Nil(t, result.Proxy)
}

func TestCheckerProxyProbe(t *testing.T) {
	// The server plays the proxy role: it answers the absolute-URI request
	// the client sends when a proxy is configured.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.RequestURI, "http://") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewChecker("http://target.example", 0)
	proxy := proxyFromServer(t, server)

	result := checker.Check(context.Background(), proxy)
	assert.True(t, result.OK)
	assert.True(t, proxy.Valid)
	assert.GreaterOrEqual(t, result.TimeMs, int64(0))
}

func TestCheckerMarksUnreachableInvalid(t *testing.T) {
	// A closed local port fails fast with connection refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	proxy := proxyFromServer(t, server)
	server.Close()

	checker := NewChecker("http://target.example", 0)
	result := checker.Check(context.Background(), proxy)
	assert.False(t, result.OK)
	assert.False(t, proxy.Valid)
}

func TestCheckProxiesSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	deadProxy := proxyFromServer(t, dead)
	dead.Close()

	proxies := []*model.Proxy{
		proxyFromServer(t, server),
		deadProxy,
		proxyFromServer(t, server),
	}

	checker := NewChecker("http://target.example", 0)
	summary, err := checker.CheckProxies(context.Background(), proxies)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.InvalidCount)
	require.Len(t, summary.Proxies, 3)
	assert.False(t, proxies[1].Valid)
	assert.True(t, proxies[0].Valid)
}

func TestCheckProxiesSweepsInChunks(t *testing.T) {
	var inflight, peak atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := inflight.Add(1)
		for {
			max := peak.Load()
			if cur <= max || peak.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	proxies := make([]*model.Proxy, 0, 14)
	for i := 0; i < 14; i++ {
		proxies = append(proxies, proxyFromServer(t, server))
	}

	checker := NewChecker("http://target.example", 0)
	start := time.Now()
	summary, err := checker.CheckProxies(context.Background(), proxies)
	require.NoError(t, err)

	assert.Equal(t, 14, summary.SuccessCount)
	require.Len(t, summary.Proxies, 14)
	assert.LessOrEqual(t, peak.Load(), int64(checkChunkSize))
	// 14 proxies over a chunk size of 6 means three chunks and two pauses.
	assert.GreaterOrEqual(t, time.Since(start), 2*checkChunkDelay)
}
