package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"listen_engine/internal/agent"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session, err := New(Options{Agent: agent.Random()})
	require.NoError(t, err)
	return session
}

func TestSessionAttachesUserAgent(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	session := newTestSession(t)
	_, err := session.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, session.Agent().UserAgent, seen)
}

func TestSessionKeepsExplicitUserAgent(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	session := newTestSession(t)
	header := fhttp.Header{}
	header.Set("User-Agent", "custom-agent/1.0")
	_, err := session.Do(context.Background(), &Request{
		Method: fhttp.MethodGet,
		URL:    server.URL,
		Header: header,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom-agent/1.0", seen)
}

func TestSessionFollowsRedirectsAsGet(t *testing.T) {
	var methods []string
	var bodies []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		bodies = append(bodies, r.ContentLength)
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/landing", http.StatusFound)
			return
		}
		fmt.Fprint(w, "done")
	}))
	defer server.Close()

	session := newTestSession(t)
	form := url.Values{"a": {"b"}}
	resp, err := session.PostForm(context.Background(), server.URL+"/start", form)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, server.URL+"/landing", resp.FinalURL)
	require.Equal(t, []string{"POST", "GET"}, methods)
	assert.LessOrEqual(t, bodies[1], int64(0))
}

func TestSessionRedirectBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer server.Close()

	session, err := New(Options{MaxRedirects: 3})
	require.NoError(t, err)

	_, err = session.Get(context.Background(), server.URL)
	var limitErr *RedirectLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
}

func TestSessionNoRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer server.Close()

	session := newTestSession(t)
	resp, err := session.Do(context.Background(), &Request{
		Method:     fhttp.MethodGet,
		URL:        server.URL,
		NoRedirect: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/next", resp.Header.Get("Location"))
}

func TestSessionDecodesWindows1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("Привет")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		_, _ = w.Write([]byte(encoded))
	}))
	defer server.Close()

	session := newTestSession(t)
	resp, err := session.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Привет", resp.Text())
}

func TestSessionCookieRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "remixsid", Value: "abc", Path: "/"})
			return
		}
		cookie, err := r.Cookie("remixsid")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, cookie.Value)
	}))
	defer server.Close()

	session := newTestSession(t)
	_, err := session.Get(context.Background(), server.URL+"/set")
	require.NoError(t, err)

	resp, err := session.Get(context.Background(), server.URL+"/read")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Text())

	// Export from one session, import into a fresh one.
	entries := session.ExportCookies(server.URL)
	require.NotEmpty(t, entries)

	fresh := newTestSession(t)
	fresh.ImportCookies(entries)
	resp, err = fresh.Get(context.Background(), server.URL+"/read")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Text())
}

func TestConnectionErrorWrapsCause(t *testing.T) {
	session := newTestSession(t)
	_, err := session.Get(context.Background(), "http://127.0.0.1:1/unreachable")
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.NotNil(t, connErr.Unwrap())
}
