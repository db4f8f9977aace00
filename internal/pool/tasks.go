package pool

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"listen_engine/internal/model"
)

// ErrTaskNotFound is returned for edits and deletes against unknown ids.
var ErrTaskNotFound = errors.New("task not found")

const historyLimit = 200

// AddTaskParams describes one listen goal. Count is how many listens to add
// on top of the playlist's current counter.
type AddTaskParams struct {
	Playlist    model.Playlist
	Count       int64
	Human       bool
	FavoriteAdd bool
}

// EditTaskParams patches a task in place. Nil fields are left untouched.
type EditTaskParams struct {
	Enabled     *bool
	Human       *bool
	FavoriteAdd *bool
	Target      *int64
}

// TaskPool owns active listen goals plus a bounded history of retired ones.
type TaskPool struct {
	mu      sync.RWMutex
	tasks   []*model.Task
	history []model.Task
}

func NewTaskPool(initial []model.Task, history []model.Task) *TaskPool {
	p := &TaskPool{
		tasks:   make([]*model.Task, 0, len(initial)),
		history: append([]model.Task(nil), history...),
	}
	for i := range initial {
		task := initial[i]
		p.tasks = append(p.tasks, &task)
	}
	return p
}

// Add registers a goal. Adding against a playlist that already has an active
// task raises that task's target instead of creating a second one.
func (p *TaskPool) Add(params AddTaskParams) (*model.Task, bool, error) {
	if params.Count <= 0 {
		return nil, false, errors.New("listen count must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fullID := params.Playlist.FullID()
	for _, task := range p.tasks {
		if task.Playlist.FullID() == fullID {
			task.Progress.Target += params.Count
			return task, true, nil
		}
	}

	task := &model.Task{
		ID:          uuid.NewString(),
		Enabled:     true,
		Human:       params.Human,
		FavoriteAdd: params.FavoriteAdd,
		Playlist:    params.Playlist,
		Progress: model.TaskProgress{
			Initial: params.Playlist.Listens,
			Actual:  params.Playlist.Listens,
			Target:  params.Playlist.Listens + params.Count,
		},
	}
	p.tasks = append(p.tasks, task)
	return task, false, nil
}

func (p *TaskPool) Get() []*model.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*model.Task(nil), p.tasks...)
}

// View returns a detached copy of the task. Scheduler units read through
// here so a concurrent snapshot refresh cannot tear the struct under them.
func (p *TaskPool) View(id string) (model.Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task := p.findLocked(id)
	if task == nil {
		return model.Task{}, false
	}
	return copyTask(task), true
}

// UpdateSnapshot replaces the task's playlist snapshot and syncs the actual
// counter to the remote one, returning the updated copy.
func (p *TaskPool) UpdateSnapshot(id string, playlist model.Playlist) (model.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task := p.findLocked(id)
	if task == nil {
		return model.Task{}, false
	}
	task.Playlist = playlist
	task.Progress.Actual = playlist.Listens
	return copyTask(task), true
}

// MarkPerformed flags the given tasks as worked this tick.
func (p *TaskPool) MarkPerformed(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if task := p.findLocked(id); task != nil {
			task.Performed = true
		}
	}
}

// ResetPerformed clears the performed flag on every active task.
func (p *TaskPool) ResetPerformed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, task := range p.tasks {
		task.Performed = false
	}
}

// SetTimeLeft stores the completion estimate in unix milliseconds.
func (p *TaskPool) SetTimeLeft(id string, ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if task := p.findLocked(id); task != nil {
		task.TimeLeft = ms
	}
}

// Enabled returns the tasks the scheduler may work on this tick.
func (p *TaskPool) Enabled() []*model.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*model.Task, 0, len(p.tasks))
	for _, task := range p.tasks {
		if task.Enabled && !task.Deleted {
			out = append(out, task)
		}
	}
	return out
}

func (p *TaskPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

func (p *TaskPool) Find(id string) *model.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.findLocked(id)
}

func (p *TaskPool) findLocked(id string) *model.Task {
	for _, task := range p.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

func (p *TaskPool) Edit(id string, params EditTaskParams) (*model.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	task := p.findLocked(id)
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if params.Enabled != nil {
		task.Enabled = *params.Enabled
	}
	if params.Human != nil {
		task.Human = *params.Human
	}
	if params.FavoriteAdd != nil {
		task.FavoriteAdd = *params.FavoriteAdd
	}
	if params.Target != nil {
		task.Progress.Target = *params.Target
	}
	return task, nil
}

// Delete removes a task without recording history. Manual removal is not a
// completion.
func (p *TaskPool) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, task := range p.tasks {
		if task.ID == id {
			task.Enabled = false
			task.Deleted = true
			task.Performed = false
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			return nil
		}
	}
	return ErrTaskNotFound
}

// Retire moves a completed task out of the active set into history.
func (p *TaskPool) Retire(id string) (*model.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, task := range p.tasks {
		if task.ID == id {
			task.Enabled = false
			task.Performed = false
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			p.appendHistoryLocked(*task)
			return task, nil
		}
	}
	return nil, ErrTaskNotFound
}

func (p *TaskPool) appendHistoryLocked(task model.Task) {
	for _, stored := range p.history {
		if stored.ID == task.ID {
			return
		}
	}
	p.history = append(p.history, task)
	if len(p.history) > historyLimit {
		p.history = p.history[len(p.history)-historyLimit:]
	}
}

func (p *TaskPool) History() []model.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.Task(nil), p.history...)
}

func (p *TaskPool) Snapshot() []model.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Task, 0, len(p.tasks))
	for _, task := range p.tasks {
		out = append(out, copyTask(task))
	}
	return out
}

func copyTask(task *model.Task) model.Task {
	copied := *task
	copied.Playlist.Audios = append([]model.Audio(nil), task.Playlist.Audios...)
	return copied
}
