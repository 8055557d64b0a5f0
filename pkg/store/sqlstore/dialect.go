package sqlstore

import (
	"strconv"
	"strings"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema(jobs, runs string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + jobs + ` (
			name       TEXT PRIMARY KEY,
			endpoint   TEXT NOT NULL,
			method     TEXT NOT NULL,
			headers    TEXT NOT NULL,
			body       TEXT NOT NULL,
			enabled    INTEGER NOT NULL,
			retries    INTEGER NOT NULL,
			run_at     BIGINT NOT NULL,
			run_every  TEXT NOT NULL,
			timezone   TEXT NOT NULL,
			next_at    BIGINT NULL,
			attempt    INTEGER NOT NULL,
			arm_id     TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + jobs + `_due ON ` + jobs + ` (enabled, next_at)`,
		`CREATE TABLE IF NOT EXISTS ` + runs + ` (
			id          TEXT PRIMARY KEY,
			job_name    TEXT NOT NULL,
			ts          BIGINT NOT NULL,
			success     INTEGER NOT NULL,
			status_code INTEGER NOT NULL,
			body        TEXT NOT NULL,
			attempt     INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + runs + `_job ON ` + runs + ` (job_name, ts)`,
	}
}
