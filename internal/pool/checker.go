package pool

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"listen_engine/internal/agent"
	"listen_engine/internal/model"
)

const (
	checkChunkSize  = 6
	checkChunkDelay = 150 * time.Millisecond
)

// CheckResult is one connectivity probe outcome.
type CheckResult struct {
	Proxy  *model.Proxy `json:"proxy,omitempty"`
	TimeMs int64        `json:"time"`
	OK     bool         `json:"status"`
}

// CheckSummary aggregates a full proxy sweep.
type CheckSummary struct {
	InvalidCount int           `json:"invalidCount"`
	SuccessCount int           `json:"successCount"`
	Proxies      []CheckResult `json:"proxies"`
}

// Checker probes reachability of the platform origin, directly or through a
// proxy. Each probe uses a throwaway identity so the sweeps stay independent
// of account sessions.
type Checker struct {
	target  string
	timeout time.Duration
}

func NewChecker(target string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{target: target, timeout: timeout}
}

// Check probes once. A nil proxy checks the direct system route.
func (c *Checker) Check(ctx context.Context, proxy *model.Proxy) CheckResult {
	client := resty.New().
		SetTimeout(c.timeout).
		SetHeader("User-Agent", agent.Random().UserAgent)
	if proxy != nil {
		client.SetProxy(proxy.URL())
	}

	start := time.Now()
	_, err := client.R().SetContext(ctx).Get(c.target)
	result := CheckResult{
		Proxy:  proxy,
		TimeMs: time.Since(start).Milliseconds(),
		OK:     err == nil,
	}
	if proxy != nil {
		proxy.Valid = result.OK
	}
	return result
}

// CheckProxies sweeps the list in fixed-size chunks with a short pause
// between chunks so the probe traffic stays bursty-but-bounded.
func (c *Checker) CheckProxies(ctx context.Context, proxies []*model.Proxy) (*CheckSummary, error) {
	summary := &CheckSummary{Proxies: make([]CheckResult, len(proxies))}

	for offset := 0; offset < len(proxies); offset += checkChunkSize {
		end := offset + checkChunkSize
		if end > len(proxies) {
			end = len(proxies)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			group.Go(func() error {
				summary.Proxies[i] = c.Check(groupCtx, proxies[i])
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		if end < len(proxies) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(checkChunkDelay):
			}
		}
	}

	for _, result := range summary.Proxies {
		if result.OK {
			summary.SuccessCount++
		} else {
			summary.InvalidCount++
		}
	}
	return summary, nil
}
