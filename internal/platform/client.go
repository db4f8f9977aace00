package platform

import (
	"net/url"
	"strings"
	"sync"
)

// Endpoints names the platform origins the client talks to. They default to
// the production hosts and are overridable so tests can point at a local
// stand-in.
type Endpoints struct {
	// BaseURL is the desktop origin.
	BaseURL string `yaml:"base_url"`
	// MobileBaseURL is the mobile origin serving the login form and the
	// audio endpoint.
	MobileBaseURL string `yaml:"mobile_base_url"`
	// StorageBaseURL is the static asset origin serving script bundles.
	StorageBaseURL string `yaml:"storage_base_url"`
	// UserInfoURL returns the current session's user as JSON.
	UserInfoURL string `yaml:"user_info_url"`
}

func (e *Endpoints) ApplyDefaults() {
	if e.BaseURL == "" {
		e.BaseURL = "https://vk.com"
	}
	if e.MobileBaseURL == "" {
		e.MobileBaseURL = "https://m.vk.com"
	}
	if e.StorageBaseURL == "" {
		e.StorageBaseURL = "https://st.vk.com"
	}
	if e.UserInfoURL == "" {
		e.UserInfoURL = e.MobileBaseURL + "/user_info"
	}
}

func (e *Endpoints) AudioURL() string {
	return e.MobileBaseURL + "/audio"
}

// Resolve turns a relative path from a page into an absolute URL on the
// mobile origin. Absolute inputs pass through unchanged.
func (e *Endpoints) Resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base, err := url.Parse(e.MobileBaseURL)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return base.ResolveReference(ref).String()
}

// Client bundles the endpoint set with the process-wide track schema cache.
// One Client is shared by every account session.
type Client struct {
	endpoints Endpoints

	schemaMu sync.Mutex
	schema   *TrackSchema
}

func NewClient(endpoints Endpoints) *Client {
	endpoints.ApplyDefaults()
	return &Client{endpoints: endpoints}
}

func (c *Client) Endpoints() Endpoints { return c.endpoints }
