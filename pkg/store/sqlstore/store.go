package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var validPrefix = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const jobColumns = `name, endpoint, method, headers, body, enabled, retries, run_at, run_every, timezone, next_at, attempt, arm_id, created_at, updated_at`

// Store keeps jobs and runs in a SQL database. Times are stored as unix
// milliseconds so both dialects compare them the same way.
type Store struct {
	db      *sql.DB
	dialect Dialect
	jobs    string
	runs    string
	log     *logger.Logger
}

// Open connects to the database and creates the tables when missing.
func Open(ctx context.Context, dialect Dialect, dsn, prefix string, log *logger.Logger) (*Store, error) {
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}

	switch dialect {
	case SQLite:
		if dsn == "" {
			dsn = "hookcron.db"
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000"
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// One writer at a time, which also keeps ":memory:" databases shared.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		jobs:    prefix + "_jobs",
		runs:    prefix + "_runs",
		log:     log.Named("sqlstore"),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range s.dialect.schema(s.jobs, s.runs) {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) ClaimDueJob(ctx context.Context, now time.Time) (*payloads.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM `+s.jobs+
		` WHERE enabled = 1 AND next_at IS NOT NULL AND next_at <= ? ORDER BY next_at, name LIMIT 1`),
		now.UnixMilli())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, s.q(`UPDATE `+s.jobs+` SET next_at = NULL, attempt = 0 WHERE name = ? AND next_at = ?`),
		job.Name, job.Schedule.Next.UnixMilli())
	if err != nil {
		return nil, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if aff == 0 {
		s.log.Debug("claim lost", zap.String("job", job.Name))
		return nil, core.ErrClaimConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// SaveJob writes the post-run schedule only while the row is still claimed
// under the caller's arming.
func (s *Store) SaveJob(ctx context.Context, job *payloads.Job) error {
	next, attempt := scheduleArgs(job.Schedule)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE `+s.jobs+` SET next_at = ?, attempt = ?
		WHERE name = ? AND arm_id = ? AND next_at IS NULL`),
		next, attempt, job.Name, job.ArmID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return nil
	}

	var found int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM `+s.jobs+` WHERE name = ?`), job.Name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return core.ErrJobRearmed
}

func (s *Store) UpsertJob(ctx context.Context, job *payloads.Job) error {
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return core.ErrFailedToMarshalPayload.WithArgs(err)
	}
	next, attempt := scheduleArgs(job.Schedule)
	armID := payloads.NewArmID()

	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO `+s.jobs+` (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			endpoint = excluded.endpoint,
			method = excluded.method,
			headers = excluded.headers,
			body = excluded.body,
			enabled = excluded.enabled,
			retries = excluded.retries,
			run_at = excluded.run_at,
			run_every = excluded.run_every,
			timezone = excluded.timezone,
			next_at = excluded.next_at,
			attempt = excluded.attempt,
			arm_id = excluded.arm_id,
			updated_at = excluded.updated_at`),
		job.Name, job.Endpoint, job.Method, string(headers), job.Body, boolToInt(job.Enabled),
		job.Retries, job.RunAt.UnixMilli(), job.RunEvery, job.Timezone, next, attempt, armID,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		return err
	}
	job.ArmID = armID
	return nil
}

// UpdateJob rewrites the definition columns and never touches next_at,
// attempt or arm_id.
func (s *Store) UpdateJob(ctx context.Context, job *payloads.Job) error {
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return core.ErrFailedToMarshalPayload.WithArgs(err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE `+s.jobs+` SET
			endpoint = ?, method = ?, headers = ?, body = ?, enabled = ?, retries = ?,
			run_at = ?, run_every = ?, timezone = ?, updated_at = ?
		WHERE name = ?`),
		job.Endpoint, job.Method, string(headers), job.Body, boolToInt(job.Enabled), job.Retries,
		job.RunAt.UnixMilli(), job.RunEvery, job.Timezone, job.UpdatedAt.UnixMilli(), job.Name)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*payloads.Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM `+s.jobs+` WHERE name = ?`), name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	return job, err
}

func (s *Store) DeleteJob(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM `+s.jobs+` WHERE name = ?`), name)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (s *Store) AppendRun(ctx context.Context, run *payloads.RunRecord) error {
	id := run.ID
	if id == uuid.Nil {
		id = uuid.Must(uuid.NewV4())
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO `+s.runs+
		` (id, job_name, ts, success, status_code, body, attempt, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id.String(), run.JobName, run.Timestamp.UnixMilli(), boolToInt(run.Success),
		run.StatusCode, run.Body, run.Attempt, run.DurationMs)
	return err
}

func (s *Store) ListRuns(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultRunsLimit
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, job_name, ts, success, status_code, body, attempt, duration_ms FROM `+
		s.runs+` WHERE job_name = ? ORDER BY ts DESC LIMIT ?`), name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*payloads.RunRecord{}
	for rows.Next() {
		var (
			run     payloads.RunRecord
			id      string
			ts      int64
			success int
		)
		if err := rows.Scan(&id, &run.JobName, &ts, &success, &run.StatusCode, &run.Body, &run.Attempt, &run.DurationMs); err != nil {
			return nil, err
		}
		if run.ID, err = uuid.FromString(id); err != nil {
			return nil, core.ErrFailedToDecodeField.WithArgs("id", err)
		}
		run.Timestamp = time.UnixMilli(ts).UTC()
		run.Success = success != 0
		out = append(out, &run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*payloads.Job, error) {
	var (
		job                        payloads.Job
		headers                    string
		enabled                    int
		runAt, createdAt, updateAt int64
		next                       sql.NullInt64
		attempt                    int
	)
	if err := row.Scan(&job.Name, &job.Endpoint, &job.Method, &headers, &job.Body, &enabled, &job.Retries,
		&runAt, &job.RunEvery, &job.Timezone, &next, &attempt, &job.ArmID, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &job.Headers); err != nil {
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	job.Enabled = enabled != 0
	job.RunAt = time.UnixMilli(runAt).UTC()
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updateAt).UTC()
	if next.Valid {
		job.Schedule = payloads.ScheduleAt(time.UnixMilli(next.Int64).UTC(), attempt)
	}
	return &job, nil
}

func scheduleArgs(sched *payloads.Schedule) (sql.NullInt64, int) {
	if sched == nil {
		return sql.NullInt64{}, 0
	}
	if sched.Next == nil {
		return sql.NullInt64{}, sched.Attempt
	}
	return sql.NullInt64{Int64: sched.Next.UnixMilli(), Valid: true}, sched.Attempt
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
