package model

// TaskProgress tracks the listen counter of one task. Actual is refreshed
// from remote snapshots at bounded intervals; the task is complete once
// Actual >= Target.
type TaskProgress struct {
	Initial int64 `json:"initial"`
	Actual  int64 `json:"actual"`
	Target  int64 `json:"target"`
}

// Task is a playlist-targeted goal: raise the playlist's listen counter by a
// requested amount. Completion is terminal; the scheduler retires the task
// and it moves to history.
type Task struct {
	ID string `json:"id"`

	Enabled     bool `json:"enabled"`
	Performed   bool `json:"performed"`
	Human       bool `json:"human"`
	FavoriteAdd bool `json:"favoriteAdd"`
	Deleted     bool `json:"deleted"`

	// TimeLeft is a unix-millisecond completion estimate recomputed every
	// scheduler tick. Derived state, never authoritative.
	TimeLeft int64 `json:"timeLeft"`

	Progress TaskProgress `json:"progress"`
	Playlist Playlist     `json:"playlist"`
}

func (t *Task) Complete() bool {
	return t.Progress.Actual >= t.Progress.Target
}

func (t *Task) Remaining() int64 {
	if t.Complete() {
		return 0
	}
	return t.Progress.Target - t.Progress.Actual
}
