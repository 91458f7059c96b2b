// Package sqlutil consolidates the small null-handling conversions that
// would otherwise be duplicated across every store file, the same role
// system/framework/core/sql.go plays in the teacher repo.
package sqlutil

import (
	"database/sql"
	"time"
)

// ToNullString converts s to sql.NullString; empty strings become NULL.
func ToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromNullString extracts the string, returning "" for NULL.
func FromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ToNullTime converts t to sql.NullTime; the zero time becomes NULL.
func ToNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// ToNullTimePtr converts a *time.Time to sql.NullTime.
func ToNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return ToNullTime(*t)
}

// FromNullTime extracts the time, returning the zero time for NULL.
func FromNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}

// FromNullTimePtr extracts a *time.Time, returning nil for NULL.
func FromNullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// ToNullInt64 converts an int64 pointer to sql.NullInt64.
func ToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// FromNullInt64 extracts an *int64, returning nil for NULL.
func FromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// RowScanner abstracts *sql.Row / *sql.Rows so scan helpers work with either.
type RowScanner interface {
	Scan(dest ...any) error
}
