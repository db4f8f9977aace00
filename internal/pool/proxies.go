package pool

import (
	"strings"
	"sync"

	"listen_engine/internal/model"
)

// ProxyFilter narrows Get. Nil matches everything.
type ProxyFilter struct {
	Valid *bool
}

// ProxyPool owns the egress endpoints. Identity is (address, port, type);
// re-adding a known proxy is a no-op.
type ProxyPool struct {
	mu      sync.RWMutex
	proxies []*model.Proxy
}

func NewProxyPool(initial []model.Proxy) *ProxyPool {
	p := &ProxyPool{proxies: make([]*model.Proxy, 0, len(initial))}
	for i := range initial {
		proxy := initial[i]
		p.proxies = append(p.proxies, &proxy)
	}
	return p
}

// AddText imports newline-separated proxy lines of one type.
func (p *ProxyPool) AddText(typ model.ProxyType, text string) AddResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result AddResult
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		result.Total++

		proxy, err := model.ParseProxyLine(typ, line)
		if err != nil {
			continue
		}
		if p.findLocked(proxy) != nil {
			continue
		}
		p.proxies = append(p.proxies, proxy)
		result.Added++
	}
	return result
}

func (p *ProxyPool) findLocked(proxy *model.Proxy) *model.Proxy {
	for _, existing := range p.proxies {
		if existing.Same(proxy) {
			return existing
		}
	}
	return nil
}

func (p *ProxyPool) Get(filter *ProxyFilter) []*model.Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*model.Proxy, 0, len(p.proxies))
	for _, proxy := range p.proxies {
		if filter != nil && filter.Valid != nil && proxy.Valid != *filter.Valid {
			continue
		}
		out = append(out, proxy)
	}
	return out
}

func (p *ProxyPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}

func (p *ProxyPool) DeleteInvalid() (deleted int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.proxies[:0]
	for _, proxy := range p.proxies {
		if proxy.Valid {
			kept = append(kept, proxy)
		} else {
			deleted++
		}
	}
	p.proxies = kept
	return deleted
}

func (p *ProxyPool) Clear() {
	p.mu.Lock()
	p.proxies = nil
	p.mu.Unlock()
}

func (p *ProxyPool) Snapshot() []model.Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Proxy, 0, len(p.proxies))
	for _, proxy := range p.proxies {
		copied := *proxy
		if proxy.Auth != nil {
			auth := *proxy.Auth
			copied.Auth = &auth
		}
		out = append(out, copied)
	}
	return out
}
