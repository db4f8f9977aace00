package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listen_engine/internal/config"
	"listen_engine/internal/logbus"
	"listen_engine/internal/model"
	"listen_engine/internal/platform"
	"listen_engine/internal/pool"
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []model.Task
	required  []model.DataFlag
}

func (n *recordingNotifier) TaskCompleted(task model.Task) {
	n.mu.Lock()
	n.completed = append(n.completed, task)
	n.mu.Unlock()
}

func (n *recordingNotifier) DataRequired(flags model.DataFlag) {
	n.mu.Lock()
	n.required = append(n.required, flags)
	n.mu.Unlock()
}

func (n *recordingNotifier) completedTasks() []model.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Task(nil), n.completed...)
}

func testEngine(t *testing.T, accounts []model.Account, tasks []model.Task) (*Engine, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	e := New(Options{
		Bus:      logbus.New(64),
		Notifier: notifier,
		Accounts: pool.NewAccountPool(accounts),
		Proxies:  pool.NewProxyPool(nil),
		Tasks:    pool.NewTaskPool(tasks, nil),
		Limits:   config.LimitsConfig{GlobalQPS: 100, GlobalBurst: 100},
		Listener: config.ListenerConfig{MinListenSec: 35},
	})
	return e, notifier
}

func listenTask(id string, actual, target int64) model.Task {
	return model.Task{
		ID:        id,
		Enabled:   true,
		Performed: true,
		Playlist: model.Playlist{
			PlaylistMeta: model.PlaylistMeta{ID: 1, OwnerID: -100},
			Title:        "Playlist",
			Audios: []model.Audio{
				{ID: 1, OwnerID: -100, Duration: 180},
				{ID: 2, OwnerID: -100, Duration: 240},
			},
		},
		Progress: model.TaskProgress{Initial: 0, Actual: actual, Target: target},
	}
}

func TestSettleTasksRetiresCompleted(t *testing.T) {
	e, notifier := testEngine(t,
		[]model.Account{{Login: "a", Password: "1", Authorized: true, Valid: true}},
		[]model.Task{listenTask("done", 150, 150)},
	)

	e.settleTasks()

	assert.Equal(t, 0, e.tasks.Len())
	history := e.tasks.History()
	require.Len(t, history, 1)
	assert.Equal(t, "done", history[0].ID)

	completed := notifier.completedTasks()
	require.Len(t, completed, 1)
	assert.Equal(t, "done", completed[0].ID)
}

func TestSettleTasksRetiresOnlyOnce(t *testing.T) {
	e, notifier := testEngine(t, nil, []model.Task{listenTask("done", 200, 150)})

	e.settleTasks()
	e.settleTasks()

	assert.Len(t, notifier.completedTasks(), 1)
	assert.Len(t, e.tasks.History(), 1)
}

func TestSettleTasksEstimatesTimeLeft(t *testing.T) {
	e, _ := testEngine(t,
		[]model.Account{
			{Login: "a", Password: "1", Authorized: true, Valid: true},
			{Login: "b", Password: "2", Authorized: true, Valid: true},
		},
		[]model.Task{listenTask("running", 50, 150)},
	)

	before := time.Now()
	e.settleTasks()

	task := e.tasks.Find("running")
	require.NotNil(t, task)

	// 100 listens remaining over 2 listeners, each unit taking the minimum
	// listen plus the cooldown floor plus the progress infelicity.
	unit := 35*time.Second + 30*time.Second + progressInfelicity
	expected := before.Add(time.Duration(100/2) * unit).UnixMilli()
	assert.InDelta(t, expected, task.TimeLeft, float64(5*time.Second/time.Millisecond))
}

func TestSettleTasksEstimateSurvivesListenerSurplus(t *testing.T) {
	e, _ := testEngine(t,
		[]model.Account{
			{Login: "a", Password: "1", Authorized: true, Valid: true},
			{Login: "b", Password: "2", Authorized: true, Valid: true},
			{Login: "c", Password: "3", Authorized: true, Valid: true},
			{Login: "d", Password: "4", Authorized: true, Valid: true},
		},
		[]model.Task{listenTask("nearly", 149, 150)},
	)

	before := time.Now()
	e.settleTasks()

	task := e.tasks.Find("nearly")
	require.NotNil(t, task)

	// One listen remaining over four listeners still yields a quarter of a
	// unit, not zero.
	unit := 35*time.Second + 30*time.Second + progressInfelicity
	expected := before.Add(unit / 4).UnixMilli()
	assert.Greater(t, task.TimeLeft, before.UnixMilli())
	assert.InDelta(t, expected, task.TimeLeft, float64(2*time.Second/time.Millisecond))
}

func TestListenUnitConnectionErrorBacksOff(t *testing.T) {
	notifier := &recordingNotifier{}
	e := New(Options{
		Bus:      logbus.New(64),
		Client:   platform.NewClient(platform.Endpoints{BaseURL: "http://127.0.0.1:1", MobileBaseURL: "http://127.0.0.1:1", StorageBaseURL: "http://127.0.0.1:1", UserInfoURL: "http://127.0.0.1:1/user_info"}),
		Notifier: notifier,
		Accounts: pool.NewAccountPool([]model.Account{{Login: "a", Password: "1", Authorized: true, Valid: true}}),
		Proxies:  pool.NewProxyPool(nil),
		Tasks:    pool.NewTaskPool([]model.Task{listenTask("t1", 0, 100)}, nil),
		Limits:   config.LimitsConfig{GlobalQPS: 100, GlobalBurst: 100, PerAccountQPS: 100, PerAccountBurst: 100},
		Listener: config.ListenerConfig{MinListenSec: 35},
		Timeout:  2 * time.Second,
	})
	account := e.accounts.Get(nil)[0]

	before := time.Now()
	e.listenUnit(t.Context(), account, "t1")
	after := time.Now()

	state := e.stateFor(account.Key())
	wake := time.Unix(0, state.sleepUntil.Load())
	assert.True(t, wake.After(before.Add(e.listenerCfg.ErrorCooldownMin())),
		"wake %v not past the cooldown floor", wake)
	assert.True(t, wake.Before(after.Add(e.listenerCfg.ErrorCooldownMax())),
		"wake %v past the cooldown ceiling", wake)

	assert.Equal(t, 1, e.accounts.Len())
	assert.True(t, e.accounts.Get(nil)[0].Valid)
}

func TestSettleTasksResetsTimeLeftWhenIdle(t *testing.T) {
	task := listenTask("idle", 10, 100)
	task.Performed = false
	task.TimeLeft = 12345

	e, _ := testEngine(t, nil, []model.Task{task})
	e.settleTasks()

	got := e.tasks.Find("idle")
	require.NotNil(t, got)
	assert.Equal(t, int64(0), got.TimeLeft)
}

func TestListenOptionsMinimalProfile(t *testing.T) {
	e, _ := testEngine(t, nil, nil)
	task := listenTask("t", 0, 10)
	task.Human = false

	opts := e.listenOptions(task, &taskCache{}, task.Playlist.Audios[0])
	assert.Equal(t, 35, opts.ListenedSec)
	assert.Equal(t, "background", opts.State)
	assert.Empty(t, opts.Context)
	assert.Empty(t, opts.Prev)
}

func TestListenOptionsHumanProfile(t *testing.T) {
	e, _ := testEngine(t, nil, nil)
	task := listenTask("t", 0, 10)
	task.Human = true
	cache := &taskCache{prev: "-100_1"}
	audio := task.Playlist.Audios[1]

	for i := 0; i < 50; i++ {
		opts := e.listenOptions(task, cache, audio)
		assert.GreaterOrEqual(t, opts.ListenedSec, 35)
		assert.LessOrEqual(t, opts.ListenedSec, audio.Duration)
		assert.Contains(t, []string{"app", "background"}, opts.State)
		assert.NotEmpty(t, opts.Context)
		assert.NotEmpty(t, opts.StopReason)
		assert.Equal(t, "-100_1", opts.Prev)
	}
}

func TestStartListenerRequiresData(t *testing.T) {
	e, notifier := testEngine(t, nil, nil)

	err := e.StartListener()
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataAccounts|model.DataTasks, required.Flags)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.required, 1)
	assert.Equal(t, model.DataAccounts|model.DataTasks, notifier.required[0])
}

func TestStartRefusedDuringValidation(t *testing.T) {
	e, _ := testEngine(t,
		[]model.Account{{Login: "a", Password: "1", Authorized: true, Valid: true}},
		[]model.Task{listenTask("t", 0, 10)},
	)
	e.validator.running.Store(true)

	assert.ErrorIs(t, e.StartListener(), ErrValidationRunning)
	assert.ErrorIs(t, e.StartAuthorization(t.Context()), ErrValidationRunning)
	assert.False(t, e.ListenerStatus().Running)
}

func TestStartAuthorizationRequiresAccounts(t *testing.T) {
	e, _ := testEngine(t, nil, nil)

	err := e.StartAuthorization(t.Context())
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataAccounts, required.Flags)
}

func TestStartAuthorizationRequiresSolver(t *testing.T) {
	e, _ := testEngine(t, []model.Account{{Login: "a", Password: "1", Valid: true}}, nil)

	err := e.StartAuthorization(t.Context())
	var required *DataRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, model.DataAntiCaptcha, required.Flags)
}

func TestEligibleListenersProxyRequired(t *testing.T) {
	accounts := []model.Account{
		{Login: "a", Password: "1", Authorized: true, Valid: true},
		{
			Login: "b", Password: "2", Authorized: true, Valid: true,
			Proxy: &model.Proxy{Type: model.ProxyTypeHTTP, Address: "10.0.0.1", Port: 8080, Valid: true},
		},
	}

	e, _ := testEngine(t, accounts, nil)
	assert.Len(t, e.eligibleListeners(), 2)

	e.proxyCfg.Required = true
	listeners := e.eligibleListeners()
	require.Len(t, listeners, 1)
	assert.Equal(t, "b", listeners[0].Login)
}
