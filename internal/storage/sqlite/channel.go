package sqlite

import (
	"context"
	"database/sql"
	"time"

	routex "github.com/dctx/routex/internal"
)

// CreateChannel inserts a new channel.
func (s *Store) CreateChannel(ctx context.Context, c *routex.Channel) error {
	models, err := joinStrings(c.Models)
	if err != nil {
		return err
	}
	transformers, err := joinStrings(c.Transformers)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO channels
			(id, name, vendor, base_url, api_key_enc, refresh_token, models, priority, weight,
			 status, transformers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Vendor), c.BaseURL, c.APIKeyEnc, c.RefreshToken,
		models, c.Priority, c.Weight, string(c.Status), transformers,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetChannel retrieves a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (*routex.Channel, error) {
	row := s.read.QueryRowContext(ctx, channelSelect+` WHERE id=?`, id)
	return scanChannel(row)
}

// GetChannelByName retrieves a channel by its unique name.
func (s *Store) GetChannelByName(ctx context.Context, name string) (*routex.Channel, error) {
	row := s.read.QueryRowContext(ctx, channelSelect+` WHERE name=?`, name)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by priority descending, name ascending.
func (s *Store) ListChannels(ctx context.Context) ([]*routex.Channel, error) {
	rows, err := s.read.QueryContext(ctx, channelSelect+` ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return scanChannels(rows)
}

// ListEnabledChannels returns enabled channels ordered by priority descending, name ascending.
func (s *Store) ListEnabledChannels(ctx context.Context) ([]*routex.Channel, error) {
	rows, err := s.read.QueryContext(ctx,
		channelSelect+` WHERE status != 'disabled' ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return scanChannels(rows)
}

// UpdateChannel updates an existing channel's configuration fields.
func (s *Store) UpdateChannel(ctx context.Context, c *routex.Channel) error {
	models, err := joinStrings(c.Models)
	if err != nil {
		return err
	}
	transformers, err := joinStrings(c.Transformers)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE channels SET name=?, vendor=?, base_url=?, api_key_enc=?, refresh_token=?,
			models=?, priority=?, weight=?, status=?, transformers=?, updated_at=?
		 WHERE id=?`,
		c.Name, string(c.Vendor), c.BaseURL, c.APIKeyEnc, c.RefreshToken,
		models, c.Priority, c.Weight, string(c.Status), transformers,
		time.Now().UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "channel")
}

// DeleteChannel removes a channel.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM channels WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "channel")
}

// RecordAttempt updates request/success/failure counters and timestamps
// after a proxied attempt against this channel. Health-state transitions
// (circuit breaker, rate limiting) live in the health package's in-memory
// registry, not here; this persists the durable counters shown in the
// admin UI.
func (s *Store) RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	if success {
		_, err := s.write.ExecContext(ctx,
			`UPDATE channels SET request_count=request_count+1, success_count=success_count+1,
				consecutive_failures=0, last_used_at=? WHERE id=?`, ts, id)
		return err
	}
	_, err := s.write.ExecContext(ctx,
		`UPDATE channels SET request_count=request_count+1, failure_count=failure_count+1,
			consecutive_failures=consecutive_failures+1, last_used_at=?, last_failure_time=? WHERE id=?`,
		ts, ts, id)
	return err
}

const channelSelect = `SELECT id, name, vendor, base_url, api_key_enc, refresh_token, models,
	priority, weight, status, transformers, request_count, success_count, failure_count,
	consecutive_failures, last_used_at, last_failure_time, created_at, updated_at
	FROM channels`

func scanChannel(s scanner) (*routex.Channel, error) {
	var c routex.Channel
	var vendor, status, models, transformers string
	var lastUsed, lastFailure sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.Name, &vendor, &c.BaseURL, &c.APIKeyEnc, &c.RefreshToken, &models,
		&c.Priority, &c.Weight, &status, &transformers, &c.RequestCount, &c.SuccessCount,
		&c.FailureCount, &c.ConsecutiveFailures, &lastUsed, &lastFailure, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	c.Vendor = routex.Vendor(vendor)
	c.Status = routex.ChannelStatus(status)
	c.Models = splitStrings(models)
	c.Transformers = splitStrings(transformers)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsed.String)
		c.LastUsedAt = &t
	}
	if lastFailure.Valid {
		t, _ := time.Parse(time.RFC3339, lastFailure.String)
		c.LastFailureTime = &t
	}
	return &c, nil
}

func scanChannels(rows *sql.Rows) ([]*routex.Channel, error) {
	defer rows.Close()
	var out []*routex.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
