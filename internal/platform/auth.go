package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"

	"listen_engine/internal/captcha"
	"listen_engine/internal/model"
	"listen_engine/internal/transport"
)

const (
	maxAuthAttempts    = 2
	maxCaptchaAttempts = 3
)

var (
	loginFormPattern    = regexp.MustCompile(`<form method="POST"[^>]*action="([^"]+)"`)
	loginCaptchaPattern = regexp.MustCompile(`id="captcha".+"(/captcha\.php\?s=\d+&(?:amp;)?sid=(\d+))"`)
)

const (
	captchaImageSelector = "#captcha"
	captchaSidSelector   = `input[name="captcha_sid"]`
	errorMessageSelector = ".service_msg"
)

const (
	markerBlocked       = "act=blocked"
	markerSecurity      = "act=security"
	markerAuthCheck     = "act=authcheck"
	markerInviteConfirm = "act=invite_confirm"
)

type loginForm struct {
	action  string
	captcha *captcha.Challenge
}

// AuthResult is what a successful login hands back to the account pool.
type AuthResult struct {
	User    *model.UserInfo
	Cookies []model.CookieJarEntry
}

// Authorize drives one account's login as a bounded loop. The session must
// be fresh; on terminal failure the jar is reset so no partial cookie set
// survives into a retry.
//
// The loop resubmits the form on soft failures up to maxAuthAttempts and
// solves captchas up to maxCaptchaAttempts before giving up. Landing URLs
// carrying a restriction marker terminate immediately.
func (c *Client) Authorize(ctx context.Context, session *transport.Session, login, password string, solver captcha.Solver) (*AuthResult, error) {
	result, err := c.login(ctx, session, login, password, solver)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) && session != nil {
			session.ResetCookies()
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) login(ctx context.Context, session *transport.Session, login, password string, solver captcha.Solver) (*AuthResult, error) {
	if login == "" || password == "" {
		return nil, &AuthError{Code: AuthFailed, Message: "login or password is empty"}
	}

	form, err := c.fetchLoginForm(ctx, session)
	if err != nil {
		return nil, err
	}

	var (
		captchaKey      string
		captchaAttempts int
		authAttempts    int
	)

	for {
		if form.captcha != nil && captchaKey == "" {
			if captchaAttempts >= maxCaptchaAttempts {
				return nil, &AuthError{
					Code:    AuthCaptchaRequired,
					Message: "exceeded captcha solve attempts",
				}
			}
			if solver == nil {
				return nil, &AuthError{
					Code:    AuthCaptchaRequired,
					Message: "captcha required but no solver is configured",
				}
			}

			key, err := c.solveChallenge(ctx, session, form.captcha, solver)
			if err != nil {
				captchaAttempts++
				continue
			}
			captchaKey = key
		}

		values := url.Values{}
		values.Set("email", login)
		values.Set("pass", password)
		if form.captcha != nil {
			values.Set("captcha_sid", form.captcha.SID)
			values.Set("captcha_key", captchaKey)
		}

		resp, err := session.PostForm(ctx, form.action, values)
		if err != nil {
			return nil, err
		}

		userID, err := c.UserID(ctx, session)
		if err != nil {
			return nil, err
		}
		if userID > 0 {
			return c.finishLogin(ctx, session, userID)
		}

		if authErr := scanLandingURL(resp.FinalURL); authErr != nil {
			return nil, authErr
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, fmt.Errorf("parse login response: %w", err)
		}

		if sid, src, ok := parseCaptchaNode(doc); ok {
			captchaAttempts++
			image, err := c.fetchCaptchaImage(ctx, session, src)
			if err != nil {
				return nil, err
			}
			form.captcha = &captcha.Challenge{SID: sid, Image: image}
			captchaKey = ""
			continue
		}

		if authAttempts >= maxAuthAttempts {
			message := strings.TrimSpace(doc.Find(errorMessageSelector).Text())
			if message == "" {
				message = "exceeded login attempts"
			}
			return nil, &AuthError{Code: AuthFailed, Message: message}
		}
		authAttempts++
	}
}

func (c *Client) fetchLoginForm(ctx context.Context, session *transport.Session) (*loginForm, error) {
	resp, err := session.Get(ctx, c.endpoints.MobileBaseURL)
	if err != nil {
		return nil, err
	}

	match := loginFormPattern.FindSubmatch(resp.Body)
	if match == nil {
		return nil, &AuthError{Code: AuthFailed, Message: "login form not found"}
	}
	form := &loginForm{action: string(match[1])}

	if m := loginCaptchaPattern.FindSubmatch(resp.Body); m != nil {
		form.captcha = &captcha.Challenge{SID: string(m[2])}
		image, err := c.fetchCaptchaImage(ctx, session, string(m[1]))
		if err != nil {
			return nil, err
		}
		form.captcha.Image = image
	}
	return form, nil
}

func (c *Client) solveChallenge(ctx context.Context, session *transport.Session, challenge *captcha.Challenge, solver captcha.Solver) (string, error) {
	if len(challenge.Image) == 0 {
		return "", &AuthError{Code: AuthCaptchaRequired, Message: "captcha image is empty"}
	}
	return solver.Solve(ctx, challenge.Image)
}

func (c *Client) fetchCaptchaImage(ctx context.Context, session *transport.Session, path string) ([]byte, error) {
	resp, err := session.Get(ctx, c.endpoints.Resolve(path))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) finishLogin(ctx context.Context, session *transport.Session, userID int64) (*AuthResult, error) {
	user, err := c.UserByID(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &model.UserInfo{ID: userID}
	}

	c.plantAnalyticsCookies(session)

	cookies := session.ExportCookies(c.endpoints.BaseURL, c.endpoints.MobileBaseURL)
	return &AuthResult{User: user, Cookies: cookies}, nil
}

// plantAnalyticsCookies seeds the tracker cookies a real browser session
// accumulates; sessions without them look synthetic.
func (c *Client) plantAnalyticsCookies(session *transport.Session) {
	domain := cookieDomain(c.endpoints.BaseURL)
	nextYear := time.Now().AddDate(1, 0, 0)
	fp := session.Agent()

	for _, cookie := range []*http.Cookie{
		{Name: "tmr_lvid", Value: randomHexString(32), Domain: domain, Expires: nextYear},
		{Name: "tmr_lvidTS", Value: fmt.Sprintf("%d", time.Now().UnixMilli()), Domain: domain, Expires: nextYear},
		{Name: "tmr_reqNum", Value: "0", Domain: domain, Expires: nextYear},
		{Name: "remixlang", Value: "1", Domain: domain, Expires: nextYear},
		{
			Name:    "remixmdevice",
			Value:   fmt.Sprintf("%d/%d/1/!!-!!!!", fp.ScreenWidth, fp.ScreenHeight),
			Domain:  domain,
			Expires: time.Now().Add(90 * 24 * time.Hour),
			Secure:  true,
		},
	} {
		session.SetCookie(c.endpoints.BaseURL, cookie)
	}
}

func scanLandingURL(landing string) *AuthError {
	switch {
	case strings.Contains(landing, markerInviteConfirm):
		return &AuthError{Code: AuthInviteConfirmRequired, Message: "invite confirmation required"}
	case strings.Contains(landing, markerAuthCheck):
		return &AuthError{Code: AuthTwoFactorRequired, Message: "two-factor confirmation required"}
	case strings.Contains(landing, markerBlocked):
		return &AuthError{Code: AuthPageBlocked, Message: "account page is blocked"}
	case strings.Contains(landing, markerSecurity):
		return &AuthError{Code: AuthSecurityCheckRequired, Message: "phone number confirmation required"}
	}
	return nil
}

func parseCaptchaNode(doc *goquery.Document) (sid, src string, ok bool) {
	image := doc.Find(captchaImageSelector)
	if image.Length() == 0 {
		return "", "", false
	}
	sid, _ = doc.Find(captchaSidSelector).Attr("value")
	src, _ = image.Attr("src")
	if sid == "" || src == "" {
		return "", "", false
	}
	return sid, src, true
}

func cookieDomain(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if i := strings.Index(host, "."); i != -1 && strings.Count(host, ".") > 1 {
		host = host[i+1:]
	}
	return host
}

func randomHexString(n int) string {
	const chars = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}
