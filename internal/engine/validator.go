package engine

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"listen_engine/internal/model"
	"listen_engine/internal/pool"
)

// proxyProbeAttempts caps consecutive probe failures while assigning one
// account a working proxy.
const proxyProbeAttempts = 3

type validatorState struct {
	running atomic.Bool
	lastRun atomic.Int64 // unix ms
}

// AccountCheckResult is one account's session probe outcome.
type AccountCheckResult struct {
	Account string `json:"account"`
	Status  bool   `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ValidationReport summarizes one full sweep.
type ValidationReport struct {
	Skipped bool `json:"skipped"`

	Connection    pool.CheckResult   `json:"connection"`
	Proxies       *pool.CheckSummary `json:"proxies,omitempty"`
	ProxiesPurged int                `json:"proxiesPurged"`

	Accounts          []AccountCheckResult `json:"accounts,omitempty"`
	AccountsChecked   int                  `json:"accountsChecked"`
	AccountsDemoted   int                  `json:"accountsDemoted"`
	AccountsAssigned  int                  `json:"accountsAssigned"`
	AccountsPurged    int                  `json:"accountsPurged"`
	NeedAuthorization int                  `json:"needAuthorization"`
}

// Validate runs the ordered resource sweep: connectivity, proxies, proxy
// assignment with a probe per assignment, account sessions, invalid-account
// purge. Running out of valid proxies or accounts aborts the sweep with a
// data-required error. Sweeps within the minimum interval are skipped unless
// forced, and a sweep never runs concurrently with itself.
func (e *Engine) Validate(ctx context.Context, force bool) (*ValidationReport, error) {
	if !force {
		last := e.validator.lastRun.Load()
		if last > 0 && time.Since(time.UnixMilli(last)) < e.listenerCfg.ValidationGap() {
			return &ValidationReport{Skipped: true}, nil
		}
	}
	if !e.validator.running.CompareAndSwap(false, true) {
		return &ValidationReport{Skipped: true}, nil
	}
	defer e.validator.running.Store(false)

	report := &ValidationReport{}

	report.Connection = e.CheckConnection(ctx)
	if !report.Connection.OK && e.proxyCfg.System != "" {
		e.raiseDataRequired(model.DataSystemProxy)
	}

	if e.proxies.Len() > 0 {
		e.notify(model.NotifyProxyValidationStart, nil)
		summary, err := e.checker.CheckProxies(ctx, e.proxies.Get(nil))
		if err != nil {
			e.notify(model.NotifyProxyValidationStop, nil)
			return report, err
		}
		report.Proxies = summary
		report.ProxiesPurged = e.proxies.DeleteInvalid()
		e.notify(model.NotifyProxyValidationStop, summary)
	}

	if len(e.proxies.Get(&pool.ProxyFilter{Valid: boolPtr(true)})) == 0 {
		e.raiseDataRequired(model.DataProxies)
		return report, &DataRequiredError{Flags: model.DataProxies}
	}
	if e.accounts.Len() == 0 {
		e.raiseDataRequired(model.DataAccounts)
		return report, &DataRequiredError{Flags: model.DataAccounts}
	}

	e.notify(model.NotifyAccountsProxyValidationStart, nil)
	assigned, err := e.validateAccountProxies(ctx)
	report.AccountsAssigned = assigned
	if err != nil {
		return report, err
	}
	e.notify(model.NotifyAccountsProxyValidationStop, map[string]any{
		"assigned": assigned,
	})

	results, demoted, err := e.validateAccountSessions(ctx)
	if err != nil {
		return report, err
	}
	report.Accounts = results
	report.AccountsChecked = len(results)
	report.AccountsDemoted = demoted
	report.AccountsPurged = e.accounts.DeleteInvalid()

	report.NeedAuthorization = len(e.accounts.Get(&pool.AccountFilter{
		Authorized: boolPtr(false),
		Valid:      boolPtr(true),
	}))
	if report.NeedAuthorization > 0 {
		e.notify(model.NotifyNeedAuthorization, map[string]any{
			"count": report.NeedAuthorization,
		})
	}

	e.validator.lastRun.Store(time.Now().UnixMilli())
	e.persistQuietly(ctx)
	return report, nil
}

// validateAccountProxies hands every account a probed working proxy. Each
// distinct proxy is connectivity-checked once before any account trusts it;
// a failed probe marks the proxy invalid, strips it from the account and
// moves on to the next candidate. More than proxyProbeAttempts consecutive
// failures for one account abort the sweep.
func (e *Engine) validateAccountProxies(ctx context.Context) (int, error) {
	valid := e.proxies.Get(&pool.ProxyFilter{Valid: boolPtr(true)})
	if len(valid) == 0 {
		e.raiseDataRequired(model.DataProxies)
		return 0, &DataRequiredError{Flags: model.DataProxies}
	}

	probed := make(map[string]struct{})
	accounts := e.accounts.Get(nil)

	assigned := 0
	cursor := rand.Intn(len(valid))
	attempts := 0

	for i := 0; i < len(accounts); {
		account := accounts[i]

		if account.Proxy == nil || !account.Proxy.Valid {
			next := nextValidProxy(valid, &cursor)
			if next == nil {
				e.raiseDataRequired(model.DataProxies)
				return assigned, &DataRequiredError{Flags: model.DataProxies}
			}
			account.Proxy = next
			assigned++
			e.dropSession(account.Key())
		}

		key := account.Proxy.String()
		if _, ok := probed[key]; ok {
			i++
			attempts = 0
			continue
		}

		e.log("debug", "probing account proxy", map[string]any{
			"account": account.String(),
			"proxy":   key,
		})
		result := e.checker.Check(ctx, account.Proxy)
		if !result.OK {
			account.Proxy = nil
			e.dropSession(account.Key())
			attempts++
			if attempts > proxyProbeAttempts {
				e.raiseDataRequired(model.DataProxies)
				return assigned, &DataRequiredError{Flags: model.DataProxies}
			}
			continue
		}

		probed[key] = struct{}{}
		i++
		attempts = 0
	}
	return assigned, nil
}

// nextValidProxy round-robins over the candidates, skipping the ones a probe
// has since marked invalid.
func nextValidProxy(candidates []*model.Proxy, cursor *int) *model.Proxy {
	for range candidates {
		proxy := candidates[*cursor%len(candidates)]
		*cursor++
		if proxy.Valid {
			return proxy
		}
	}
	return nil
}

// validateAccountSessions probes every authorized session in bounded chunks
// and demotes the ones the platform no longer recognizes. The result carries
// one entry per probed account.
func (e *Engine) validateAccountSessions(ctx context.Context) (results []AccountCheckResult, demoted int, err error) {
	authorized := e.accounts.Get(&pool.AccountFilter{Authorized: boolPtr(true)})
	results = make([]AccountCheckResult, len(authorized))

	e.notify(model.NotifyAccountsValidationStart, map[string]any{"total": len(authorized)})
	defer func() {
		e.notify(model.NotifyAccountsValidationStop, map[string]any{
			"checked": len(results),
			"demoted": demoted,
			"results": results,
		})
	}()

	chunk := e.limits.AuthChunkSize
	var demotedCount atomic.Int64
	for offset := 0; offset < len(authorized); offset += chunk {
		end := offset + chunk
		if end > len(authorized) {
			end = len(authorized)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			account := authorized[i]
			group.Go(func() error {
				lock := e.lockFor(account.Key())
				select {
				case lock <- struct{}{}:
					defer func() { <-lock }()
				case <-groupCtx.Done():
					return groupCtx.Err()
				}

				results[i] = AccountCheckResult{Account: account.Login, Status: true}

				session, err := e.sessionFor(account)
				if err != nil {
					results[i].Status = false
					results[i].Error = err.Error()
					return nil
				}
				id, err := e.client.UserID(groupCtx, session)
				if err != nil {
					// Unreachable is not unauthorized; leave the account be.
					e.noteProxyFailure(account)
					results[i].Status = false
					results[i].Error = err.Error()
					return nil
				}
				if id <= 0 {
					account.Authorized = false
					e.dropSession(account.Key())
					demotedCount.Add(1)
					results[i].Status = false
					results[i].Error = "session no longer recognized"
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return results[:end], int(demotedCount.Load()), err
		}
	}
	return results, int(demotedCount.Load()), nil
}

func boolPtr(v bool) *bool { return &v }
