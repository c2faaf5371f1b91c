package sqlite

import (
	"context"
	"strings"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/storage"
)

// InsertRequestLogs batch-inserts request logs in a single multi-row INSERT,
// avoiding N round-trips for a full async-writer batch (logBatchSize logs
// flushed at once).
func (s *Store) InsertRequestLogs(ctx context.Context, logs []routex.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	const cols = 14
	placeholders := make([]string, len(logs))
	args := make([]any, 0, len(logs)*cols)

	for i, l := range logs {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			l.ID, l.ChannelID, l.Model, l.Method, l.Path, l.StatusCode, l.LatencyMs,
			l.InputTokens, l.OutputTokens, l.CachedTokens, boolToInt(l.Success), l.Error,
			l.CostUSD, l.Timestamp.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO request_logs
		(id, channel_id, model, method, path, status_code, latency_ms,
		 input_tokens, output_tokens, cached_tokens, success, error, cost_usd, timestamp)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryRequestLogs returns request logs matching f, newest first.
func (s *Store) QueryRequestLogs(ctx context.Context, f storage.RequestLogFilter) ([]routex.RequestLog, error) {
	query, args := requestLogWhere(f)
	query = `SELECT id, channel_id, model, method, path, status_code, latency_ms,
		input_tokens, output_tokens, cached_tokens, success, error, cost_usd, timestamp
		FROM request_logs` + query + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routex.RequestLog
	for rows.Next() {
		var l routex.RequestLog
		var success int
		var ts string
		if err := rows.Scan(&l.ID, &l.ChannelID, &l.Model, &l.Method, &l.Path, &l.StatusCode,
			&l.LatencyMs, &l.InputTokens, &l.OutputTokens, &l.CachedTokens, &success, &l.Error,
			&l.CostUSD, &ts); err != nil {
			return nil, err
		}
		l.Success = success != 0
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountRequestLogs returns the number of request logs matching f.
func (s *Store) CountRequestLogs(ctx context.Context, f storage.RequestLogFilter) (int, error) {
	query, args := requestLogWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`+query, args...).Scan(&n)
	return n, err
}

// SumCostSince returns the accumulated cost for channelID since a point in
// time, backing the per-channel budget tracker.
func (s *Store) SumCostSince(ctx context.Context, channelID string, since time.Time) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM request_logs WHERE channel_id = ? AND timestamp >= ?`,
		channelID, since.UTC().Format(time.RFC3339),
	).Scan(&total)
	return total, err
}

// QueryAnalytics aggregates request logs in [since, until) into summary stats.
func (s *Store) QueryAnalytics(ctx context.Context, since, until time.Time) (storage.Analytics, error) {
	var a storage.Analytics
	row := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(1-success), 0),
			COALESCE(SUM(cost_usd), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM request_logs WHERE timestamp >= ? AND timestamp < ?`,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339),
	)
	if err := row.Scan(&a.TotalRequests, &a.SuccessCount, &a.FailureCount, &a.TotalCostUSD,
		&a.TotalInTokens, &a.TotalOutTokens); err != nil {
		return a, err
	}

	// Percentiles computed in SQL by ordering latencies and reading one row
	// at an offset; SQLite lacks PERCENTILE_CONT so this approximates by
	// nearest-rank.
	a.P50LatencyMs, _ = latencyPercentile(ctx, s.read, since, until, 0.50)
	a.P99LatencyMs, _ = latencyPercentile(ctx, s.read, since, until, 0.99)
	return a, nil
}

func latencyPercentile(ctx context.Context, db querier, since, until time.Time, p float64) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE timestamp >= ? AND timestamp < ?`,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339),
	).Scan(&n); err != nil || n == 0 {
		return 0, err
	}
	offset := int(float64(n-1) * p)
	var latency int
	err := db.QueryRowContext(ctx,
		`SELECT latency_ms FROM request_logs WHERE timestamp >= ? AND timestamp < ?
		 ORDER BY latency_ms ASC LIMIT 1 OFFSET ?`,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339), offset,
	).Scan(&latency)
	return latency, err
}

func requestLogWhere(f storage.RequestLogFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.ChannelID != "" {
		clauses = append(clauses, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
