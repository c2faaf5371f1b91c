package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	routex "github.com/dctx/routex/internal"
)

type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB; used to share query helpers between the
// read pool and (in tests) a single connection.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFoundErr translates sql.ErrNoRows to routex.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return routex.ErrNotFound
	}
	return err
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, routex.ErrNotFound)
	}
	return nil
}

// joinStrings JSON-encodes a string slice for storage in a TEXT column.
func joinStrings(ss []string) (string, error) {
	if ss == nil {
		return "[]", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(b), nil
}

// splitStrings decodes a JSON-encoded string list column; a malformed or
// empty value decodes to nil rather than erroring, since these are
// best-effort display/filter lists, not authoritative state.
func splitStrings(s string) []string {
	var out []string
	json.Unmarshal([]byte(s), &out)
	return out
}
