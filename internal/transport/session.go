package transport

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"golang.org/x/text/encoding/charmap"

	"listen_engine/internal/agent"
	"listen_engine/internal/model"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRedirects = 10
)

type Options struct {
	Agent agent.Fingerprint
	Proxy *model.Proxy

	// Timeout bounds each Do call including the redirect chain.
	Timeout time.Duration
	// MaxRedirects is the follow budget per Do call. 0 means the default.
	MaxRedirects int
}

// Session is one browser-like HTTP identity: a TLS fingerprint, a device
// fingerprint, an optional egress proxy and a cookie jar. An account owns at
// most one session at a time and sessions are not safe for concurrent use.
type Session struct {
	client       tls_client.HttpClient
	jar          tls_client.CookieJar
	agent        agent.Fingerprint
	proxy        *model.Proxy
	timeout      time.Duration
	maxRedirects int
}

func New(opts Options) (*Session, error) {
	fp := opts.Agent
	if fp.IsZero() {
		fp = agent.Random()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	redirects := opts.MaxRedirects
	if redirects <= 0 {
		redirects = defaultRedirects
	}

	jar := tls_client.NewCookieJar()
	clientOpts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout / time.Second)),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}
	if opts.Proxy != nil {
		clientOpts = append(clientOpts, tls_client.WithProxyUrl(opts.Proxy.URL()))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOpts...)
	if err != nil {
		return nil, err
	}
	return &Session{
		client:       client,
		jar:          jar,
		agent:        fp,
		proxy:        opts.Proxy,
		timeout:      timeout,
		maxRedirects: redirects,
	}, nil
}

func (s *Session) Agent() agent.Fingerprint { return s.agent }
func (s *Session) Proxy() *model.Proxy      { return s.proxy }

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// NoRedirect returns the first response as-is instead of following the
	// chain.
	NoRedirect bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	// Body is decoded to UTF-8 when the remote declares windows-1251.
	Body []byte
	// FinalURL is the URL that produced the response after redirects.
	FinalURL string
}

func (r *Response) Text() string { return string(r.Body) }

// Do performs the request and walks the redirect chain manually. Redirect
// hops are plain GETs carrying only the session user agent, matching what a
// browser address-bar navigation sends.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	method := req.Method
	target := req.URL
	header := req.Header
	body := req.Body

	for hop := 0; ; hop++ {
		if hop > s.maxRedirects {
			return nil, &RedirectLimitError{Limit: s.maxRedirects, Last: target}
		}

		resp, err := s.roundTrip(ctx, method, target, header, body)
		if err != nil {
			return nil, err
		}
		if req.NoRedirect || !isRedirect(resp.StatusCode) {
			return resp, nil
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		next, err := resolveLocation(target, loc)
		if err != nil {
			return nil, &ConnectionError{Op: "redirect", Err: err}
		}

		method = http.MethodGet
		target = next
		header = nil
		body = nil
	}
}

func (s *Session) roundTrip(ctx context.Context, method, target string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, &ConnectionError{Op: "build request", Err: err}
	}

	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", s.agent.UserAgent)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &ConnectionError{Op: "round trip", Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusProxyAuthRequired ||
		(s.proxy != nil && httpResp.StatusCode == http.StatusUnauthorized) {
		return nil, &ProxyAuthError{Status: httpResp.StatusCode}
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: "read body", Err: err}
	}
	decoded, err := decodeBody(raw, httpResp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &ConnectionError{Op: "decode body", Err: err}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       decoded,
		FinalURL:   target,
	}, nil
}

func (s *Session) Get(ctx context.Context, target string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodGet, URL: target})
}

func (s *Session) PostForm(ctx context.Context, target string, form url.Values) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    target,
		Header: header,
		Body:   []byte(form.Encode()),
	})
}

// ExportCookies snapshots the jar as it applies to the given URLs.
func (s *Session) ExportCookies(urls ...string) []model.CookieJarEntry {
	out := make([]model.CookieJarEntry, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		cookies := s.jar.Cookies(u)
		if len(cookies) == 0 {
			continue
		}
		out = append(out, model.CookieJarEntry{
			URL:     raw,
			Cookies: model.CookiesFromHTTP(cookies),
		})
	}
	return out
}

// ResetCookies swaps in an empty jar, discarding every cookie the session
// has accumulated.
func (s *Session) ResetCookies() {
	jar := tls_client.NewCookieJar()
	s.jar = jar
	s.client.SetCookieJar(jar)
}

// ImportCookies seeds the jar from a previously exported snapshot.
func (s *Session) ImportCookies(entries []model.CookieJarEntry) {
	for _, entry := range entries {
		u, err := url.Parse(entry.URL)
		if err != nil {
			continue
		}
		s.jar.SetCookies(u, model.CookiesToHTTP(entry.Cookies))
	}
}

// SetCookie plants a single cookie for the given origin.
func (s *Session) SetCookie(origin string, cookie *http.Cookie) {
	u, err := url.Parse(origin)
	if err != nil {
		return
	}
	s.jar.SetCookies(u, []*http.Cookie{cookie})
}

func (s *Session) Cookies(origin string) []*http.Cookie {
	u, err := url.Parse(origin)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(base, loc string) (string, error) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	lu, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return bu.ResolveReference(lu).String(), nil
}

func decodeBody(raw []byte, contentType string) ([]byte, error) {
	if contentType == "" {
		return raw, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return raw, nil
	}
	charset := strings.ToLower(params["charset"])
	if charset != "windows-1251" && charset != "cp1251" {
		return raw, nil
	}
	return charmap.Windows1251.NewDecoder().Bytes(raw)
}
