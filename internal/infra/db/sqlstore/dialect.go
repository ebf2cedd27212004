// Package sqlstore implements risk.Repository over database/sql. The
// driver packages (mysql, postgres, sqlite) supply a Dialect and a schema.
package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the few places where the supported databases disagree.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2) instead of ?
	Numbered bool

	// InsertIgnore is the statement head for an insert that skips
	// existing keys. OnConflict is appended after VALUES.
	InsertIgnore string
	OnConflict   string

	// ReadIsolation and ReadOnly configure multi-statement reads.
	ReadIsolation sql.IsolationLevel
	ReadOnly      bool

	// Schema statements, applied in order. They must be idempotent.
	Schema []string
}

// Rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) Rebind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
