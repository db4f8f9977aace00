package engine

import (
	"context"
	"fmt"

	"listen_engine/internal/model"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
)

// ResolvePlaylist turns a playlist URL into a live snapshot. The fetch runs
// over the session of an eligible account because anonymous sessions cannot
// read playlist sections.
func (e *Engine) ResolvePlaylist(ctx context.Context, rawURL string) (*model.Playlist, error) {
	meta, err := platform.ParsePlaylistURL(rawURL)
	if err != nil {
		return nil, err
	}

	listeners := e.eligibleListeners()
	if len(listeners) == 0 {
		e.raiseDataRequired(model.DataAccounts)
		return nil, &DataRequiredError{Flags: model.DataAccounts}
	}

	var lastErr error
	for _, account := range listeners {
		session, err := e.sessionFor(account)
		if err != nil {
			lastErr = err
			continue
		}
		playlist, err := e.client.FetchPlaylist(ctx, session, meta)
		if err != nil {
			lastErr = err
			continue
		}
		return playlist, nil
	}
	return nil, fmt.Errorf("resolve playlist: %w", lastErr)
}

// AddTask resolves the playlist behind rawURL and registers a listen task for
// it. Adding a playlist that already has a task raises its target instead.
func (e *Engine) AddTask(ctx context.Context, rawURL string, count int64, human, favoriteAdd bool) (*model.Task, bool, error) {
	playlist, err := e.ResolvePlaylist(ctx, rawURL)
	if err != nil {
		return nil, false, err
	}
	task, merged, err := e.tasks.Add(pool.AddTaskParams{
		Playlist:    *playlist,
		Count:       count,
		Human:       human,
		FavoriteAdd: favoriteAdd,
	})
	if err != nil {
		return nil, false, err
	}
	e.log("info", "task added", map[string]any{
		"task":     task.ID,
		"playlist": task.Playlist.FullID(),
		"target":   task.Progress.Target,
		"merged":   merged,
	})
	e.persistQuietly(ctx)
	return task, merged, nil
}

// CheckProxies sweeps the proxy pool on demand, outside the full validation
// cycle.
func (e *Engine) CheckProxies(ctx context.Context) (*pool.CheckSummary, error) {
	e.notify(model.NotifyProxyValidationStart, nil)
	defer e.notify(model.NotifyProxyValidationStop, nil)

	summary, err := e.checker.CheckProxies(ctx, e.proxies.Get(nil))
	if err != nil {
		return nil, err
	}
	if purged := e.proxies.DeleteInvalid(); purged > 0 {
		e.log("info", "invalid proxies removed", map[string]any{"count": purged})
	}
	e.persistQuietly(ctx)
	return summary, nil
}
