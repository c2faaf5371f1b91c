package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	routex "github.com/dctx/routex/internal"
)

const teeSelect = `SELECT id, name, type, enabled, url, method, headers, file_path, handler_id,
	filter, retries, timeout_ms, created_at FROM tee_destinations`

// CreateTee inserts a new tee destination.
func (s *Store) CreateTee(ctx context.Context, t *routex.TeeDestination) error {
	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return err
	}
	filter, err := json.Marshal(t.Filter)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO tee_destinations
			(id, name, type, enabled, url, method, headers, file_path, handler_id, filter, retries, timeout_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(t.Type), boolToInt(t.Enabled), t.URL, t.Method, string(headers),
		t.FilePath, t.HandlerID, string(filter), t.Retries, t.TimeoutMs,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetTee retrieves a tee destination by ID.
func (s *Store) GetTee(ctx context.Context, id string) (*routex.TeeDestination, error) {
	row := s.read.QueryRowContext(ctx, teeSelect+` WHERE id=?`, id)
	return scanTee(row)
}

// ListTees returns all tee destinations.
func (s *Store) ListTees(ctx context.Context) ([]*routex.TeeDestination, error) {
	rows, err := s.read.QueryContext(ctx, teeSelect+` ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	return scanTees(rows)
}

// ListEnabledTees returns enabled tee destinations.
func (s *Store) ListEnabledTees(ctx context.Context) ([]*routex.TeeDestination, error) {
	rows, err := s.read.QueryContext(ctx, teeSelect+` WHERE enabled=1 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	return scanTees(rows)
}

// UpdateTee updates an existing tee destination.
func (s *Store) UpdateTee(ctx context.Context, t *routex.TeeDestination) error {
	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return err
	}
	filter, err := json.Marshal(t.Filter)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE tee_destinations SET name=?, type=?, enabled=?, url=?, method=?, headers=?,
			file_path=?, handler_id=?, filter=?, retries=?, timeout_ms=? WHERE id=?`,
		t.Name, string(t.Type), boolToInt(t.Enabled), t.URL, t.Method, string(headers),
		t.FilePath, t.HandlerID, string(filter), t.Retries, t.TimeoutMs, t.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "tee destination")
}

// DeleteTee removes a tee destination.
func (s *Store) DeleteTee(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM tee_destinations WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "tee destination")
}

func scanTee(s scanner) (*routex.TeeDestination, error) {
	var t routex.TeeDestination
	var typ, headers, filter, createdAt string
	var enabled int
	err := s.Scan(&t.ID, &t.Name, &typ, &enabled, &t.URL, &t.Method, &headers, &t.FilePath,
		&t.HandlerID, &filter, &t.Retries, &t.TimeoutMs, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	t.Type = routex.TeeType(typ)
	t.Enabled = enabled != 0
	json.Unmarshal([]byte(headers), &t.Headers)
	if filter != "" && filter != "null" {
		var f routex.TeeFilter
		if json.Unmarshal([]byte(filter), &f) == nil {
			t.Filter = &f
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func scanTees(rows *sql.Rows) ([]*routex.TeeDestination, error) {
	defer rows.Close()
	var out []*routex.TeeDestination
	for rows.Next() {
		t, err := scanTee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
