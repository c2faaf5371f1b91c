package sqlite

import (
	"context"
	"encoding/json"
	"time"

	routex "github.com/dctx/routex/internal"
)

const oauthSelect = `SELECT id, channel_id, provider, access_token, refresh_token, expiry,
	scopes, user_info, created_at, updated_at FROM oauth_sessions`

// UpsertOAuthSession inserts or replaces the session for a channel; there is
// at most one live session per channel.
func (s *Store) UpsertOAuthSession(ctx context.Context, sess *routex.OAuthSession) error {
	scopes, err := json.Marshal(sess.Scopes)
	if err != nil {
		return err
	}
	userInfo, err := json.Marshal(sess.UserInfo)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO oauth_sessions
			(id, channel_id, provider, access_token, refresh_token, expiry, scopes, user_info, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
			provider=excluded.provider, access_token=excluded.access_token,
			refresh_token=excluded.refresh_token, expiry=excluded.expiry,
			scopes=excluded.scopes, user_info=excluded.user_info, updated_at=excluded.updated_at`,
		sess.ID, sess.ChannelID, sess.Provider, sess.AccessToken, sess.RefreshToken,
		sess.Expiry.UTC().Format(time.RFC3339), string(scopes), string(userInfo),
		sess.CreatedAt.UTC().Format(time.RFC3339), sess.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetOAuthSession retrieves the session for a channel.
func (s *Store) GetOAuthSession(ctx context.Context, channelID string) (*routex.OAuthSession, error) {
	row := s.read.QueryRowContext(ctx, oauthSelect+` WHERE channel_id=?`, channelID)
	return scanOAuthSession(row)
}

// ListOAuthSessions returns all sessions.
func (s *Store) ListOAuthSessions(ctx context.Context) ([]*routex.OAuthSession, error) {
	rows, err := s.read.QueryContext(ctx, oauthSelect+` ORDER BY channel_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*routex.OAuthSession
	for rows.Next() {
		sess, err := scanOAuthSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteOAuthSession removes the session for a channel.
func (s *Store) DeleteOAuthSession(ctx context.Context, channelID string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM oauth_sessions WHERE channel_id=?`, channelID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "oauth session")
}

func scanOAuthSession(s scanner) (*routex.OAuthSession, error) {
	var sess routex.OAuthSession
	var expiry, scopes, userInfo, createdAt, updatedAt string
	err := s.Scan(
		&sess.ID, &sess.ChannelID, &sess.Provider, &sess.AccessToken, &sess.RefreshToken,
		&expiry, &scopes, &userInfo, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}
	sess.Expiry, _ = time.Parse(time.RFC3339, expiry)
	json.Unmarshal([]byte(scopes), &sess.Scopes)
	json.Unmarshal([]byte(userInfo), &sess.UserInfo)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sess, nil
}
