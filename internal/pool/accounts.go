package pool

import (
	"regexp"
	"strings"
	"sync"

	"listen_engine/internal/agent"
	"listen_engine/internal/model"
)

var credentialPattern = regexp.MustCompile(`(\S+):(\S+)`)

// AddResult reports how an account import went. Total counts every non-empty
// input line; Added counts the lines that parsed and were not duplicates.
type AddResult struct {
	Total int `json:"total"`
	Added int `json:"added"`
}

// AccountFilter narrows Get. Nil fields match everything.
type AccountFilter struct {
	Authorized *bool
	Valid      *bool
}

// AccountPool owns every credential pair the engine knows about. Methods are
// mutex-serialized; the pointers Get hands out are mutated only by whichever
// worker currently owns the account.
type AccountPool struct {
	mu       sync.RWMutex
	accounts []*model.Account
}

func NewAccountPool(initial []model.Account) *AccountPool {
	p := &AccountPool{accounts: make([]*model.Account, 0, len(initial))}
	for i := range initial {
		account := initial[i]
		if account.Agent.IsZero() {
			account.Agent = agent.Random()
		}
		p.accounts = append(p.accounts, &account)
	}
	return p
}

// AddText imports newline-separated login:password pairs. Malformed lines
// and duplicates of existing accounts are counted but never added.
func (p *AccountPool) AddText(text string) AddResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result AddResult
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		result.Total++

		match := credentialPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		login, password := match[1], match[2]
		if p.findLocked(login, password) != nil {
			continue
		}

		p.accounts = append(p.accounts, &model.Account{
			Login:    login,
			Password: password,
			Agent:    agent.Random(),
			Valid:    true,
		})
		result.Added++
	}
	return result
}

func (p *AccountPool) findLocked(login, password string) *model.Account {
	for _, account := range p.accounts {
		if account.Login == login && account.Password == password {
			return account
		}
	}
	return nil
}

// Get returns the accounts matching the filter. The slice is a copy; the
// elements are the live accounts.
func (p *AccountPool) Get(filter *AccountFilter) []*model.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*model.Account, 0, len(p.accounts))
	for _, account := range p.accounts {
		if filter != nil {
			if filter.Authorized != nil && account.Authorized != *filter.Authorized {
				continue
			}
			if filter.Valid != nil && account.Valid != *filter.Valid {
				continue
			}
		}
		out = append(out, account)
	}
	return out
}

func (p *AccountPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

// DeleteInvalid removes every account the platform rejected outright.
func (p *AccountPool) DeleteInvalid() (invalid int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.accounts[:0]
	for _, account := range p.accounts {
		if account.Valid {
			kept = append(kept, account)
		} else {
			invalid++
		}
	}
	p.accounts = kept
	return invalid
}

func (p *AccountPool) Delete(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, account := range p.accounts {
		if account.Key() == key {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			return true
		}
	}
	return false
}

func (p *AccountPool) Clear() {
	p.mu.Lock()
	p.accounts = nil
	p.mu.Unlock()
}

// ClearSessions drops every stored session so the next authorization sweep
// starts from clean jars.
func (p *AccountPool) ClearSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, account := range p.accounts {
		account.ClearSession()
	}
}

// Snapshot deep-copies the pool for persistence and API reads.
func (p *AccountPool) Snapshot() []model.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Account, 0, len(p.accounts))
	for _, account := range p.accounts {
		copied := *account
		copied.Cookies = append([]model.CookieJarEntry(nil), account.Cookies...)
		if account.Proxy != nil {
			proxy := *account.Proxy
			copied.Proxy = &proxy
		}
		if account.User != nil {
			user := *account.User
			copied.User = &user
		}
		out = append(out, copied)
	}
	return out
}
