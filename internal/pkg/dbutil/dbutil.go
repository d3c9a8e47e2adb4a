// Package dbutil adapts gendry output to Postgres and folds driver errors
// into the application error set.
package dbutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErr "github.com/xxxsen/lectio/internal/pkg/errors"
)

// gendry renders "_limit" as "LIMIT offset, count".
var offsetLimit = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize rewrites a gendry query for Postgres: "LIMIT ?,?" becomes
// "LIMIT ? OFFSET ?" with its two arguments swapped, and "?" placeholders
// become "$n".
func Finalize(query string, args []interface{}) (string, []interface{}) {
	if loc := offsetLimit.FindStringIndex(query); loc != nil {
		at := strings.Count(query[:loc[0]], "?")
		if at+1 < len(args) {
			args[at], args[at+1] = args[at+1], args[at]
			query = query[:loc[0]] + "LIMIT ? OFFSET ?" + query[loc[1]:]
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

const (
	codeDataException     = "22000"
	codeUntranslatable    = "22P05"
	codeBadEncoding       = "22021"
	codeUniqueViolation   = "23505"
	codeQueryCanceled     = "57014"
	vectorDimensionsClash = "different vector dimensions"
)

// Classify wraps a driver error with the matching application sentinel, so
// callers can test it with errors.Is. Errors it does not recognise are
// returned unchanged.
func Classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case pqErr.Code == codeUniqueViolation:
		return fmt.Errorf("%w: %w", appErr.ErrConflict, err)
	case pqErr.Code == codeQueryCanceled:
		return fmt.Errorf("%w: %w", appErr.ErrCallerCancelled, err)
	case pqErr.Code == codeBadEncoding || pqErr.Code == codeUntranslatable:
		return fmt.Errorf("%w: %w", appErr.ErrEncoding, err)
	case pqErr.Code == codeDataException && strings.Contains(pqErr.Message, vectorDimensionsClash):
		return fmt.Errorf("%w: %w", appErr.ErrDimensionMismatch, err)
	}
	return err
}
