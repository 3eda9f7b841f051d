package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites ? placeholders into $1, $2, ...
	NumberedPlaceholders bool
	// ClaimLock is appended to the claim query (row locking for concurrent claimers).
	ClaimLock string
	// SeqColumn is the jobs column holding insertion order.
	SeqColumn string
}

// SQLite is the dialect for mattn/go-sqlite3 databases.
var SQLite = Dialect{
	Name:      "sqlite",
	SeqColumn: "rowid",
}

// Postgres is the dialect for lib/pq databases.
var Postgres = Dialect{
	Name:                 "postgres",
	NumberedPlaceholders: true,
	ClaimLock:            "FOR UPDATE OF j SKIP LOCKED",
	SeqColumn:            "seq",
}

// Rebind rewrites a query written with ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}

	var builder strings.Builder

	builder.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++

			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))

			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// Placeholders returns n comma separated ? placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
