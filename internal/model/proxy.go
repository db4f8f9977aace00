package model

import (
	"fmt"
	"strconv"
	"strings"
)

type ProxyType string

const (
	ProxyTypeHTTP  ProxyType = "http"
	ProxyTypeSOCKS ProxyType = "socks"
)

type ProxyAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Proxy is one egress endpoint. Uniqueness in the pool is (Address, Port,
// Type). Valid is written only by the validation sweep.
type Proxy struct {
	Type    ProxyType  `json:"type"`
	Address string     `json:"address"`
	Port    int        `json:"port"`
	Auth    *ProxyAuth `json:"auth,omitempty"`
	Valid   bool       `json:"valid"`
}

// URL renders the proxy in scheme://[user:pass@]host:port form, the shape
// both the tls client and resty accept.
func (p *Proxy) URL() string {
	scheme := string(p.Type)
	if p.Type == ProxyTypeSOCKS {
		scheme = "socks5"
	}
	auth := ""
	if p.Auth != nil {
		auth = p.Auth.Username + ":" + p.Auth.Password + "@"
	}
	return fmt.Sprintf("%s://%s%s:%d", scheme, auth, p.Address, p.Port)
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s://%s:%d", p.Type, p.Address, p.Port)
}

// Same reports whether two proxies share the pool identity.
func (p *Proxy) Same(other *Proxy) bool {
	return p.Address == other.Address && p.Port == other.Port && p.Type == other.Type
}

// ParseProxyLine parses a single proxy line. Accepted shapes:
//
//	host:port
//	host:port:user:pass
//	user:pass@host:port
//
// with an optional scheme prefix which is stripped.
func ParseProxyLine(typ ProxyType, line string) (*Proxy, error) {
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "://"); i != -1 {
		line = line[i+3:]
	}
	if line == "" {
		return nil, fmt.Errorf("empty proxy line")
	}

	var address, portRaw, username, password string
	if at := strings.IndexByte(line, '@'); at != -1 {
		cred := strings.SplitN(line[:at], ":", 2)
		if len(cred) != 2 {
			return nil, fmt.Errorf("malformed proxy credentials %q", line)
		}
		username, password = cred[0], cred[1]
		line = line[at+1:]
	}

	parts := strings.Split(line, ":")
	switch len(parts) {
	case 2:
		address, portRaw = parts[0], parts[1]
	case 4:
		address, portRaw, username, password = parts[0], parts[1], parts[2], parts[3]
	default:
		return nil, fmt.Errorf("malformed proxy line %q", line)
	}

	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("malformed proxy port %q", portRaw)
	}
	if address == "" {
		return nil, fmt.Errorf("malformed proxy line %q", line)
	}

	p := &Proxy{Type: typ, Address: address, Port: port, Valid: true}
	if username != "" && password != "" {
		p.Auth = &ProxyAuth{Username: username, Password: password}
	}
	return p, nil
}
