// Package store holds the SQLite persistence layer. Exclusivity and
// conservation invariants live here as constraints and guarded updates:
// partial unique indexes for slot and team claims, compare-and-set updates
// for payment settlement, and balance checks inside the debit statement.
package store

import (
	"database/sql"
	"errors"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// conflictOr translates a unique violation into a domain conflict, leaving
// other errors untouched.
func conflictOr(err error, msg string) error {
	if isUniqueViolation(err) {
		return fault.Wrap(fault.KindConflict, msg, err)
	}
	return err
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func timeFromUnix(n int64) time.Time {
	return time.Unix(n, 0).UTC()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
