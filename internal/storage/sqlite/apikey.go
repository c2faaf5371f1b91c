package sqlite

import (
	"context"
	"database/sql"
	"time"

	routex "github.com/dctx/routex/internal"
)

// CreateKey inserts a new admin API key.
func (s *Store) CreateKey(ctx context.Context, k *routex.APIKey) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, role, rpm_limit, tpm_limit, blocked, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.KeyHash, k.KeyPrefix, k.Role, nullInt64(k.RPMLimit), nullInt64(k.TPMLimit),
		boolToInt(k.Blocked), nullTime(k.ExpiresAt), k.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKey retrieves an API key by ID.
func (s *Store) GetKey(ctx context.Context, id string) (*routex.APIKey, error) {
	row := s.read.QueryRowContext(ctx, apiKeySelect+` WHERE id=?`, id)
	return scanAPIKey(row)
}

// GetKeyByHash retrieves an API key by its SHA-256 hash, the lookup path
// used on every authenticated admin-surface request.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*routex.APIKey, error) {
	row := s.read.QueryRowContext(ctx, apiKeySelect+` WHERE key_hash=?`, hash)
	return scanAPIKey(row)
}

// ListKeys returns API keys ordered by creation time descending.
func (s *Store) ListKeys(ctx context.Context, offset, limit int) ([]*routex.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		apiKeySelect+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*routex.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CountKeys returns the total number of API keys.
func (s *Store) CountKeys(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n)
	return n, err
}

// UpdateKey updates a key's role, limits, and blocked state.
func (s *Store) UpdateKey(ctx context.Context, k *routex.APIKey) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET role=?, rpm_limit=?, tpm_limit=?, blocked=?, expires_at=? WHERE id=?`,
		k.Role, nullInt64(k.RPMLimit), nullInt64(k.TPMLimit), boolToInt(k.Blocked), nullTime(k.ExpiresAt), k.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed records the last-used timestamp, called asynchronously from
// the auth path and best-effort (a missed touch never fails a request).
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

const apiKeySelect = `SELECT id, key_hash, key_prefix, role, rpm_limit, tpm_limit, blocked,
	expires_at, created_at, last_used_at FROM api_keys`

func scanAPIKey(s scanner) (*routex.APIKey, error) {
	var k routex.APIKey
	var rpm, tpm sql.NullInt64
	var blocked int
	var expiresAt, lastUsedAt sql.NullString
	var createdAt string

	err := s.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Role, &rpm, &tpm, &blocked,
		&expiresAt, &createdAt, &lastUsedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	if rpm.Valid {
		k.RPMLimit = &rpm.Int64
	}
	if tpm.Valid {
		k.TPMLimit = &tpm.Int64
	}
	k.Blocked = blocked != 0
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		k.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsedAt.String)
		k.LastUsedAt = &t
	}
	return &k, nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC().Format(time.RFC3339)
}

