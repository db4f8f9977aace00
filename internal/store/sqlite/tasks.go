package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"listen_engine/internal/model"
)

// ReplaceTasks flushes the active set and the history together. Retired rows
// carry the flag so a restart rebuilds both sides of the pool.
func (s *Store) ReplaceTasks(ctx context.Context, active, history []model.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	insert := func(task model.Task, retired int) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, retired, data_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				retired = excluded.retired,
				data_json = excluded.data_json,
				updated_at = excluded.updated_at
		`, task.ID, retired, string(data), now)
		return err
	}

	for _, task := range active {
		if err := insert(task, 0); err != nil {
			return err
		}
	}
	for _, task := range history {
		if err := insert(task, 1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListTasks(ctx context.Context) (active, history []model.Task, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT retired, data_json FROM tasks ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var retired int
		var data string
		if err := rows.Scan(&retired, &data); err != nil {
			return nil, nil, err
		}
		var task model.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}
		if retired == 1 {
			history = append(history, task)
		} else {
			active = append(active, task)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return active, history, nil
}
