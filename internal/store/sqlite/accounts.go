package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"listen_engine/internal/model"
)

// ReplaceAccounts flushes a full pool snapshot inside one transaction. The
// pool is the source of truth; rows not present in the snapshot are dropped.
func (s *Store) ReplaceAccounts(ctx context.Context, accounts []model.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, account := range accounts {
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (login, password, data_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(login, password) DO UPDATE SET
				data_json = excluded.data_json,
				updated_at = excluded.updated_at
		`, account.Login, account.Password, string(data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_json FROM accounts ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var account model.Account
		if err := json.Unmarshal([]byte(data), &account); err != nil {
			continue
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
