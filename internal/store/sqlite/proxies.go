package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"listen_engine/internal/model"
)

func (s *Store) ReplaceProxies(ctx context.Context, proxies []model.Proxy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM proxies`); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, proxy := range proxies {
		data, err := json.Marshal(proxy)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proxies (address, port, type, data_json, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(address, port, type) DO UPDATE SET
				data_json = excluded.data_json,
				updated_at = excluded.updated_at
		`, proxy.Address, proxy.Port, string(proxy.Type), string(data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_json FROM proxies ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var proxy model.Proxy
		if err := json.Unmarshal([]byte(data), &proxy); err != nil {
			continue
		}
		out = append(out, proxy)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
