package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"listen_engine/internal/model"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
	"listen_engine/internal/transport"
)

// progressInfelicity pads the completion estimate for snapshot lag: the
// remote counter trails the events we send by up to one refresh interval.
const progressInfelicity = 50 * time.Second

type listenerState struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	taskCursor    int
	accountCursor int

	states map[string]*accountState
}

// accountState is the per-account scheduler runtime. It never persists; a
// restart rebuilds it from the pools. sleepUntil is read before the account
// lock is taken, so it is atomic.
type accountState struct {
	deviceID   string
	sleepUntil atomic.Int64 // unix nano
	tasks      map[string]*taskCache
}

func (s *accountState) sleeping() bool {
	return time.Now().UnixNano() < s.sleepUntil.Load()
}

func (s *accountState) sleep(d time.Duration) {
	s.sleepUntil.Store(time.Now().Add(d).UnixNano())
}

// taskCache tracks one account's position inside one task's playlist.
type taskCache struct {
	lastRefresh time.Time
	cursor      int
	prev        string
	added       map[string]struct{}
}

// ListenerStatus is the control-plane view of the scheduler.
type ListenerStatus struct {
	Running   bool `json:"running"`
	Tasks     int  `json:"tasks"`
	Listeners int  `json:"listeners"`
}

func (e *Engine) ListenerStatus() ListenerStatus {
	e.listener.mu.Lock()
	running := e.listener.running
	e.listener.mu.Unlock()
	return ListenerStatus{
		Running:   running,
		Tasks:     len(e.tasks.Enabled()),
		Listeners: len(e.eligibleListeners()),
	}
}

func (e *Engine) eligibleListeners() []*model.Account {
	accounts := e.accounts.Get(&pool.AccountFilter{
		Authorized: boolPtr(true),
		Valid:      boolPtr(true),
	})
	if !e.proxyCfg.Required {
		return accounts
	}
	out := accounts[:0]
	for _, account := range accounts {
		if account.Proxy != nil && account.Proxy.Valid {
			out = append(out, account)
		}
	}
	return out
}

// StartListener launches the scheduler loop. It refuses to start during a
// validation sweep or without at least one account and one task, reporting
// which side is missing.
func (e *Engine) StartListener() error {
	if e.validator.running.Load() {
		return ErrValidationRunning
	}

	var missing model.DataFlag
	if e.accounts.Len() == 0 {
		missing |= model.DataAccounts
	}
	if e.tasks.Len() == 0 {
		missing |= model.DataTasks
	}
	if missing != 0 {
		e.raiseDataRequired(missing)
		return &DataRequiredError{Flags: missing}
	}

	e.listener.mu.Lock()
	if e.listener.running {
		e.listener.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.listener.running = true
	e.listener.cancel = cancel
	e.listener.wg.Add(1)
	e.listener.mu.Unlock()

	e.notify(model.NotifyListenerStart, nil)
	go e.runListener(runCtx)
	return nil
}

// StopListener halts the loop and resets the performed flag so a restart
// begins from a clean slate.
func (e *Engine) StopListener() {
	e.listener.mu.Lock()
	cancel := e.listener.cancel
	wasRunning := e.listener.running
	e.listener.cancel = nil
	e.listener.running = false
	e.listener.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !wasRunning {
		return
	}
	e.listener.wg.Wait()

	e.tasks.ResetPerformed()
	e.notify(model.NotifyListenerStop, nil)
}

func (e *Engine) runListener(ctx context.Context) {
	defer e.listener.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		e.runTick(ctx)
		e.settleTasks()
		e.persistQuietly(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.listenerCfg.Tick()):
		}
	}
}

// runTick works one rotating window of tasks against one rotating window of
// accounts and waits for every launched unit before returning.
func (e *Engine) runTick(ctx context.Context) {
	enabled := e.tasks.Enabled()
	listeners := e.eligibleListeners()

	tasks := e.rotateTasks(enabled)
	accounts := e.rotateAccounts(listeners)

	if len(tasks) == 0 || len(accounts) == 0 {
		e.log("debug", "scheduler idle, waiting for tasks and listeners", map[string]any{
			"tasks":     len(enabled),
			"listeners": len(listeners),
		})
		return
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	e.tasks.MarkPerformed(ids)

	var wg sync.WaitGroup
	for _, id := range ids {
		for _, account := range accounts {
			wg.Add(1)
			go func(taskID string, account *model.Account) {
				defer wg.Done()
				unitCtx, cancel := context.WithTimeout(ctx, e.listenerCfg.UnitDeadline())
				defer cancel()
				e.listenUnit(unitCtx, account, taskID)
			}(id, account)
		}
	}
	wg.Wait()
}

func (e *Engine) rotateTasks(tasks []*model.Task) []*model.Task {
	size := e.listenerCfg.TaskChunkSize
	if len(tasks) <= size {
		return tasks
	}
	e.listener.mu.Lock()
	offset := e.listener.taskCursor * size
	e.listener.taskCursor++
	if e.listener.taskCursor*size >= len(tasks) {
		e.listener.taskCursor = 0
	}
	e.listener.mu.Unlock()

	end := offset + size
	if end > len(tasks) {
		end = len(tasks)
	}
	if offset >= len(tasks) {
		return tasks[:size]
	}
	return tasks[offset:end]
}

func (e *Engine) rotateAccounts(accounts []*model.Account) []*model.Account {
	size := e.listenerCfg.AccountChunkSize
	if len(accounts) <= size {
		return accounts
	}
	e.listener.mu.Lock()
	offset := e.listener.accountCursor * size
	e.listener.accountCursor++
	if e.listener.accountCursor*size >= len(accounts) {
		e.listener.accountCursor = 0
	}
	e.listener.mu.Unlock()

	end := offset + size
	if end > len(accounts) {
		end = len(accounts)
	}
	if offset >= len(accounts) {
		return accounts[:size]
	}
	return accounts[offset:end]
}

func (e *Engine) stateFor(key string) *accountState {
	e.listener.mu.Lock()
	defer e.listener.mu.Unlock()
	state, ok := e.listener.states[key]
	if !ok {
		state = &accountState{
			deviceID: uuid.NewString(),
			tasks:    make(map[string]*taskCache),
		}
		e.listener.states[key] = state
	}
	return state
}

func (s *accountState) cacheFor(taskID string) *taskCache {
	cache, ok := s.tasks[taskID]
	if !ok {
		cache = &taskCache{added: make(map[string]struct{})}
		s.tasks[taskID] = cache
	}
	return cache
}

// listenUnit performs one listen on behalf of one account: refresh the
// snapshot when stale, register playback, optionally add the track to the
// library, submit the playback event and advance the cursor. Task state is
// read and written through the pool; units only ever hold copies.
func (e *Engine) listenUnit(ctx context.Context, account *model.Account, taskID string) {
	task, ok := e.tasks.View(taskID)
	if !ok || !task.Enabled || task.Complete() {
		return
	}

	state := e.stateFor(account.Key())
	if state.sleeping() {
		return
	}

	lock := e.lockFor(account.Key())
	select {
	case lock <- struct{}{}:
		defer func() { <-lock }()
	case <-ctx.Done():
		return
	}

	if err := e.globalLimiter.Wait(ctx); err != nil {
		return
	}
	if err := e.limiterFor(account.Key()).Wait(ctx); err != nil {
		return
	}

	err := e.listenOnce(ctx, account, state, task)
	if err == nil {
		cooldown := randomDuration(e.listenerCfg.CooldownMin(), e.listenerCfg.CooldownMax())
		state.sleep(cooldown)
		return
	}

	backoff := randomDuration(e.listenerCfg.ErrorCooldownMin(), e.listenerCfg.ErrorCooldownMax())

	var connErr *transport.ConnectionError
	var proxyErr *transport.ProxyAuthError
	if errors.As(err, &connErr) || errors.As(err, &proxyErr) {
		e.noteProxyFailure(account)
		state.sleep(backoff)
		e.log("warn", "connection refused, listener backs off", map[string]any{
			"account": account.String(),
			"error":   err.Error(),
		})
		return
	}

	var remoteErr *platform.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.IsAuthFailure() {
		account.Authorized = false
		e.dropSession(account.Key())
		state.sleep(backoff)
		e.notify(model.NotifyAccountRefused, map[string]any{
			"account": account.Login,
		})
		return
	}

	e.log("error", "listen unit failed", map[string]any{
		"account": account.String(),
		"task":    task.ID,
		"error":   err.Error(),
	})
}

func (e *Engine) listenOnce(ctx context.Context, account *model.Account, state *accountState, task model.Task) error {
	session, err := e.sessionFor(account)
	if err != nil {
		return err
	}

	cache := state.cacheFor(task.ID)
	if time.Since(cache.lastRefresh) > e.listenerCfg.SnapshotStale() {
		snapshot, err := e.client.FetchPlaylist(ctx, session, task.Playlist.PlaylistMeta)
		if err != nil {
			return err
		}
		updated, ok := e.tasks.UpdateSnapshot(task.ID, *snapshot)
		if !ok {
			return nil
		}
		task = updated
		cache.lastRefresh = time.Now()
	}

	if task.Complete() || len(task.Playlist.Audios) == 0 {
		return nil
	}

	if cache.cursor >= len(task.Playlist.Audios) {
		cache.cursor = 0
	}
	audio := task.Playlist.Audios[cache.cursor]

	if err := e.client.StartPlayback(ctx, session, audio, state.deviceID); err != nil {
		return err
	}

	if task.FavoriteAdd {
		if _, done := cache.added[audio.FullID()]; !done {
			// Add failures are not worth a unit abort; the listen still counts.
			if _, err := e.client.AddAudio(ctx, session, audio, task.Playlist.PlaylistMeta); err == nil {
				cache.added[audio.FullID()] = struct{}{}
			}
		}
	}

	opts := e.listenOptions(task, cache, audio)
	if err := e.client.Listen(ctx, session, audio, task.Playlist.FullID(), opts); err != nil {
		return err
	}

	cache.prev = audio.FullID()
	cache.cursor++
	if cache.cursor >= len(task.Playlist.Audios) {
		cache.cursor = 0
	}
	return nil
}

// listenOptions builds the event metadata. Human tasks report a randomized
// play context the way a real client would; plain tasks report the minimal
// background profile.
func (e *Engine) listenOptions(task model.Task, cache *taskCache, audio model.Audio) platform.ListenOptions {
	minListen := e.listenerCfg.MinListenSec
	if !task.Human {
		return platform.ListenOptions{
			ListenedSec: minListen,
			State:       "background",
		}
	}

	listened := minListen
	if audio.Duration > minListen {
		listened = minListen + rand.Intn(audio.Duration-minListen+1)
	}

	contexts := []platform.ListenContext{
		platform.ContextAlbumPage,
		platform.ContextGroupList,
		platform.ContextUserList,
		platform.ContextMy,
	}
	reasons := []platform.StopReason{
		platform.StopNextButton,
		platform.StopButton,
		platform.StopPlaylistNext,
	}
	listenState := "app"
	if rand.Intn(2) == 0 {
		listenState = "background"
	}

	return platform.ListenOptions{
		ListenedSec: listened,
		State:       listenState,
		Context:     contexts[rand.Intn(len(contexts))],
		Prev:        cache.prev,
		StopReason:  reasons[rand.Intn(len(reasons))],
	}
}

// settleTasks retires completed tasks and refreshes the completion estimate
// for the rest.
func (e *Engine) settleTasks() {
	listeners := len(e.eligibleListeners())

	for _, task := range e.tasks.Snapshot() {
		if task.Complete() {
			retired, err := e.tasks.Retire(task.ID)
			if err != nil {
				continue
			}
			e.notify(model.NotifyListenerTaskCompleted, retired)
			e.notifier.TaskCompleted(*retired)
			e.log("info", "task reached its goal", map[string]any{
				"task":     retired.ID,
				"playlist": retired.Playlist.Title,
				"target":   retired.Progress.Target,
			})
			continue
		}

		if !task.Enabled || !task.Performed {
			e.tasks.SetTimeLeft(task.ID, 0)
			continue
		}
		if listeners == 0 {
			continue
		}

		unit := time.Duration(e.listenerCfg.MinListenSec)*time.Second +
			e.listenerCfg.CooldownMin() +
			progressInfelicity
		// Units per listener is fractional; truncate only after scaling.
		units := float64(task.Remaining()) / float64(listeners)
		estimate := time.Duration(units * float64(unit))
		e.tasks.SetTimeLeft(task.ID, time.Now().Add(estimate).UnixMilli())
	}
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
