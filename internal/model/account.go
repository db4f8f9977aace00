package model

import (
	"strings"

	"listen_engine/internal/agent"
)

// Account is a credential pair plus everything the platform handed back for
// its session. Identity is (Login, Password); the pool enforces uniqueness on
// insert. Valid=false means the platform rejected the session outright and
// the account is ripe for purging; Authorized=false only means a fresh login
// is needed.
type Account struct {
	Login    string            `json:"login"`
	Password string            `json:"password"`
	Cookies  []CookieJarEntry  `json:"cookies,omitempty"`
	Agent    agent.Fingerprint `json:"agent,omitempty"`
	Proxy    *Proxy            `json:"proxy,omitempty"`
	User     *UserInfo         `json:"user,omitempty"`

	Authorized bool `json:"authorized"`
	Valid      bool `json:"valid"`
}

// UserInfo is the profile the identity endpoint resolved for an authorized
// session.
type UserInfo struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Access    bool   `json:"access"`
}

func (u UserInfo) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Key is the pool identity of the account.
func (a *Account) Key() string {
	return a.Login + ":" + a.Password
}

// String prefers the resolved profile name so logs stay readable after login.
func (a *Account) String() string {
	if a.User != nil && a.User.FullName() != "" {
		return a.User.FullName()
	}
	return a.Login
}

// ClearSession drops everything the platform could recognize a stale session
// by. Called on terminal auth failures so a partial cookie set is never
// submitted again.
func (a *Account) ClearSession() {
	a.Cookies = nil
	a.User = nil
	a.Authorized = false
}
