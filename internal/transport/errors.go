package transport

import "fmt"

// ConnectionError marks transport-level failures (dial, TLS, timeout, body
// read) as distinct from remote application errors. Callers treat it as
// retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProxyAuthError reports that the egress proxy rejected our credentials.
type ProxyAuthError struct {
	Status int
}

func (e *ProxyAuthError) Error() string {
	return fmt.Sprintf("proxy rejected request with status %d", e.Status)
}

// RedirectLimitError reports that a redirect chain exceeded the follow budget.
type RedirectLimitError struct {
	Limit int
	Last  string
}

func (e *RedirectLimitError) Error() string {
	return fmt.Sprintf("redirect limit %d exceeded at %s", e.Limit, e.Last)
}
