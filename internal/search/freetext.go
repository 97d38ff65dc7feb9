// Package search provides the free-text matching primitives used by the
// query engine. The dashboard's free_text filter is defined as a
// case-insensitive substring match over message content and the end-user
// identifier; this package owns the (documented, stable) normalization that
// makes that match deterministic:
//
//   - Unicode case folding via golang.org/x/text (not ASCII-only lowering)
//   - whitespace collapsed to single spaces, surrounding space trimmed
//   - SQL LIKE metacharacters escaped so user input is never a wildcard
//
// The SQL side compares the fold-shadow columns (user_id_fold, content_fold,
// written at insert time with Fold) LIKE pattern ESCAPE '\', with the pattern
// produced here. SQLite's lower() is ASCII-only, so folding both sides in Go
// is what keeps non-ASCII content case-insensitive. Keeping both halves in
// one place means the count query and the page query can never drift apart
// on match semantics.
package search

import (
	"strings"

	"golang.org/x/text/cases"
)

// LikeEscape is the escape character used in every LIKE pattern this package
// produces. Repositories must pass it in the ESCAPE clause verbatim.
const LikeEscape = `\`

var folder = cases.Fold()

// Fold case-folds s without touching whitespace. Repositories write its
// output into the fold-shadow columns so the LIKE comparison is folded on
// both sides.
func Fold(s string) string { return folder.String(s) }

// Normalize case-folds s and collapses internal whitespace to single spaces.
// An all-whitespace input normalizes to "".
func Normalize(s string) string {
	s = folder.String(strings.TrimSpace(s))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ")
}

// LikePattern converts a raw free_text query into a substring LIKE pattern:
// normalized, metacharacter-escaped, and wrapped in %. An empty (or
// all-whitespace) query returns "", which callers treat as "no restriction".
func LikePattern(q string) string {
	n := Normalize(q)
	if n == "" {
		return ""
	}
	return "%" + escapeLike(n) + "%"
}

// Matches reports whether the free-text query q matches s under the same
// semantics as the SQL LIKE pattern: case-folded substring, with the stored
// side folded by Fold exactly as the shadow columns are. It exists so
// in-memory consumers (tests, the dashboard controller's client-side
// highlight) agree byte-for-byte with the store.
func Matches(s, q string) bool {
	n := Normalize(q)
	if n == "" {
		return true
	}
	return strings.Contains(Fold(s), n)
}

// escapeLike escapes %, _ and the escape character itself.
func escapeLike(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
