package sqlite

import (
	"context"
	"database/sql"
	"time"

	routex "github.com/dctx/routex/internal"
)

const ruleSelect = `SELECT id, name, type, condition, target_channel, target_model, priority,
	enabled, created_at, updated_at FROM routing_rules`

// CreateRule inserts a new routing rule.
func (s *Store) CreateRule(ctx context.Context, r *routex.RoutingRule) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO routing_rules
			(id, name, type, condition, target_channel, target_model, priority, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Type, string(r.Condition), r.TargetChannel, r.TargetModel, r.Priority,
		boolToInt(r.Enabled), r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*routex.RoutingRule, error) {
	row := s.read.QueryRowContext(ctx, ruleSelect+` WHERE id=?`, id)
	return scanRule(row)
}

// ListRules returns all rules ordered by priority descending, name ascending.
func (s *Store) ListRules(ctx context.Context) ([]*routex.RoutingRule, error) {
	rows, err := s.read.QueryContext(ctx, ruleSelect+` ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// ListEnabledRules returns enabled rules ordered by priority descending, name ascending.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*routex.RoutingRule, error) {
	rows, err := s.read.QueryContext(ctx, ruleSelect+` WHERE enabled=1 ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

// UpdateRule updates an existing rule.
func (s *Store) UpdateRule(ctx context.Context, r *routex.RoutingRule) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE routing_rules SET name=?, type=?, condition=?, target_channel=?, target_model=?,
			priority=?, enabled=?, updated_at=? WHERE id=?`,
		r.Name, r.Type, string(r.Condition), r.TargetChannel, r.TargetModel, r.Priority,
		boolToInt(r.Enabled), time.Now().UTC().Format(time.RFC3339), r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "routing rule")
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM routing_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "routing rule")
}

func scanRule(s scanner) (*routex.RoutingRule, error) {
	var r routex.RoutingRule
	var condition string
	var enabled int
	var createdAt, updatedAt string
	err := s.Scan(&r.ID, &r.Name, &r.Type, &condition, &r.TargetChannel, &r.TargetModel,
		&r.Priority, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	r.Condition = []byte(condition)
	r.Enabled = enabled != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]*routex.RoutingRule, error) {
	defer rows.Close()
	var out []*routex.RoutingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
