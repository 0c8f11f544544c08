package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// PgxPool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse postgres config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: ping postgres")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS geocode_records (
	ticket_number      TEXT NOT NULL,
	version            INTEGER NOT NULL,
	geocode_key        TEXT NOT NULL,
	street             TEXT,
	intersection       TEXT,
	city               TEXT,
	county             TEXT,
	ticket_type        TEXT,
	duration           TEXT,
	work_type          TEXT,
	excavator          TEXT,
	latitude           DOUBLE PRECISION,
	longitude          DOUBLE PRECISION,
	method             TEXT,
	approach           TEXT,
	confidence         DOUBLE PRECISION,
	reasoning          TEXT,
	error_message      TEXT,
	quality_tier       TEXT NOT NULL,
	review_priority    TEXT NOT NULL,
	validation_flags   JSONB,
	supersedes         INTEGER,
	is_current         BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by_stage   TEXT NOT NULL,
	locked             BOOLEAN NOT NULL DEFAULT false,
	lock_reason        TEXT,
	locked_at          TIMESTAMPTZ,
	locked_by          TEXT,
	metadata           JSONB,
	processing_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (ticket_number, version)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	total_tickets INTEGER NOT NULL DEFAULT 0,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	summary       JSONB
);

CREATE INDEX IF NOT EXISTS idx_records_current ON geocode_records(ticket_number, is_current);
CREATE INDEX IF NOT EXISTS idx_records_key ON geocode_records(geocode_key);
CREATE INDEX IF NOT EXISTS idx_records_tier ON geocode_records(quality_tier);
CREATE INDEX IF NOT EXISTS idx_records_priority ON geocode_records(review_priority);
CREATE INDEX IF NOT EXISTS idx_records_locked ON geocode_records(locked);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: migrate postgres")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Current(ctx context.Context, ticketNumber string) (*model.GeocodeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM geocode_records WHERE ticket_number = $1 AND is_current = true`,
		ticketNumber,
	)
	rec, err := scanPgRecord(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: current %s", ticketNumber)
	}
	return rec, nil
}

func (s *PostgresStore) History(ctx context.Context, ticketNumber string) ([]model.GeocodeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM geocode_records WHERE ticket_number = $1 ORDER BY version DESC`,
		ticketNumber,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: history %s", ticketNumber)
	}
	defer rows.Close()

	var recs []model.GeocodeRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "cache: scan history row")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "cache: history iterate")
}

func (s *PostgresStore) Put(ctx context.Context, rec *model.GeocodeRecord, stageID string) (*model.GeocodeRecord, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, model.NewStorageError("begin put", err)
	}
	defer tx.Rollback(ctx)

	var prevVersion int
	var prevLocked bool
	err = tx.QueryRow(ctx,
		`SELECT version, locked FROM geocode_records
		 WHERE ticket_number = $1 AND is_current = true FOR UPDATE`,
		rec.TicketNumber,
	).Scan(&prevVersion, &prevLocked)

	switch {
	case err == pgx.ErrNoRows:
		rec.Version = 1
		rec.Supersedes = nil
	case err != nil:
		return nil, model.NewStorageError("read prior current", err)
	default:
		if prevLocked && stageID != model.StageHumanReview {
			return nil, model.NewLockedError(
				fmt.Sprintf("ticket %s current record is locked", rec.TicketNumber))
		}
		if _, err := tx.Exec(ctx,
			`UPDATE geocode_records SET is_current = false WHERE ticket_number = $1 AND version = $2`,
			rec.TicketNumber, prevVersion,
		); err != nil {
			return nil, model.NewStorageError("flip prior current", err)
		}
		rec.Version = prevVersion + 1
		v := prevVersion
		rec.Supersedes = &v
	}

	rec.IsCurrent = true
	rec.CreatedByStage = stageID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.GeocodeKey == "" {
		rec.GeocodeKey = Key(rec.Street, rec.Intersection, rec.City, rec.County)
	}

	flagsJSON, err := json.Marshal(rec.ValidationFlags)
	if err != nil {
		return nil, model.NewStorageError("marshal validation flags", err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, model.NewStorageError("marshal metadata", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO geocode_records (`+recordColumns+`) VALUES
		 ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		  $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		rec.TicketNumber, rec.Version, rec.GeocodeKey,
		rec.Street, rec.Intersection, rec.City, rec.County,
		rec.TicketType, rec.Duration, rec.WorkType, rec.Excavator,
		rec.Latitude, rec.Longitude, rec.Method, rec.Approach, rec.Confidence,
		rec.Reasoning, rec.ErrorMessage,
		string(rec.QualityTier), string(rec.ReviewPriority), string(flagsJSON),
		rec.Supersedes, rec.IsCurrent, rec.CreatedAt, rec.CreatedByStage,
		rec.Locked, rec.LockReason, rec.LockedAt, rec.LockedBy,
		string(metaJSON), rec.ProcessingTimeMs,
	)
	if err != nil {
		return nil, model.NewStorageError("insert record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, model.NewStorageError("commit put", err)
	}
	return rec, nil
}

func (s *PostgresStore) Lock(ctx context.Context, ticketNumber, reason, actor string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE geocode_records SET locked = true, lock_reason = $1, locked_at = $2, locked_by = $3
		 WHERE ticket_number = $4 AND is_current = true`,
		reason, time.Now().UTC(), actor, ticketNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "cache: lock %s", ticketNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("current record not found: %s", ticketNumber)
	}
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context, ticketNumber string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE geocode_records SET locked = false, lock_reason = NULL, locked_at = NULL, locked_by = NULL
		 WHERE ticket_number = $1 AND is_current = true`,
		ticketNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "cache: unlock %s", ticketNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("current record not found: %s", ticketNumber)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]model.GeocodeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM geocode_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CurrentOnly {
		query += ` AND is_current = true`
	}
	if len(filter.Tiers) > 0 {
		tiers := make([]string, len(filter.Tiers))
		for i, t := range filter.Tiers {
			tiers[i] = string(t)
		}
		query += ` AND quality_tier = ANY(` + arg(tiers) + `)`
	}
	if len(filter.Priorities) > 0 {
		prios := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			prios[i] = string(p)
		}
		query += ` AND review_priority = ANY(` + arg(prios) + `)`
	}
	if filter.Locked != nil {
		query += ` AND locked = ` + arg(*filter.Locked)
	}
	if len(filter.Methods) > 0 {
		query += ` AND method = ANY(` + arg(filter.Methods) + `)`
	}
	if filter.MinConfidence != nil {
		query += ` AND confidence >= ` + arg(*filter.MinConfidence)
	}
	if filter.GeocodeKey != "" {
		query += ` AND geocode_key = ` + arg(filter.GeocodeKey)
	}
	query += ` ORDER BY ticket_number, version`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ` + arg(filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "cache: query")
	}
	defer rows.Close()

	var recs []model.GeocodeRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "cache: scan query row")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "cache: query iterate")
}

func (s *PostgresStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		TierCounts:     map[model.QualityTier]int{},
		PriorityCounts: map[model.ReviewPriority]int{},
		MethodCounts:   map[string]int{},
	}

	rows, err := s.pool.Query(ctx,
		`SELECT quality_tier, review_priority, method, locked, COUNT(*)
		 FROM geocode_records WHERE is_current = true
		 GROUP BY quality_tier, review_priority, method, locked`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: statistics")
	}
	defer rows.Close()

	for rows.Next() {
		var tier, priority string
		var method *string
		var locked bool
		var n int
		if err := rows.Scan(&tier, &priority, &method, &locked, &n); err != nil {
			return nil, eris.Wrap(err, "cache: scan statistics row")
		}
		stats.TotalRecords += n
		stats.TierCounts[model.QualityTier(tier)] += n
		stats.PriorityCounts[model.ReviewPriority(priority)] += n
		if method != nil && *method != "" {
			stats.MethodCounts[*method] += n
		}
		if locked {
			stats.LockedCount += n
		}
	}
	return stats, eris.Wrap(rows.Err(), "cache: statistics iterate")
}

func (s *PostgresStore) RecordRun(ctx context.Context, run *PipelineRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, started_at, finished_at, total_tickets, succeeded, failed, skipped, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			total_tickets = EXCLUDED.total_tickets,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			summary = EXCLUDED.summary`,
		run.ID, run.StartedAt, run.FinishedAt,
		run.TotalTickets, run.Succeeded, run.Failed, run.Skipped, nilIfEmpty(run.Summary),
	)
	return eris.Wrap(err, "cache: record run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, total_tickets, succeeded, failed, skipped, summary
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: list runs")
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		var summary *string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt,
			&r.TotalTickets, &r.Succeeded, &r.Failed, &r.Skipped, &summary); err != nil {
			return nil, eris.Wrap(err, "cache: scan run row")
		}
		if summary != nil {
			r.Summary = *summary
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "cache: list runs iterate")
}

// nilIfEmpty returns nil for empty strings, allowing NULL storage in Postgres.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanPgRecord(row scannable) (*model.GeocodeRecord, error) {
	var rec model.GeocodeRecord
	var street, intersection, city, county *string
	var ticketType, duration, workType, excavator *string
	var method, approach, reasoning, errorMessage *string
	var lockReason, lockedBy *string
	var flagsJSON, metaJSON *string
	var lockedAt *time.Time
	var supersedes *int

	err := row.Scan(
		&rec.TicketNumber, &rec.Version, &rec.GeocodeKey,
		&street, &intersection, &city, &county,
		&ticketType, &duration, &workType, &excavator,
		&rec.Latitude, &rec.Longitude, &method, &approach, &rec.Confidence,
		&reasoning, &errorMessage,
		&rec.QualityTier, &rec.ReviewPriority, &flagsJSON,
		&supersedes, &rec.IsCurrent, &rec.CreatedAt, &rec.CreatedByStage,
		&rec.Locked, &lockReason, &lockedAt, &lockedBy,
		&metaJSON, &rec.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Street = deref(street)
	rec.Intersection = deref(intersection)
	rec.City = deref(city)
	rec.County = deref(county)
	rec.TicketType = deref(ticketType)
	rec.Duration = deref(duration)
	rec.WorkType = deref(workType)
	rec.Excavator = deref(excavator)
	rec.Method = deref(method)
	rec.Approach = deref(approach)
	rec.Reasoning = deref(reasoning)
	rec.ErrorMessage = deref(errorMessage)
	rec.LockReason = deref(lockReason)
	rec.LockedBy = deref(lockedBy)
	rec.LockedAt = lockedAt
	rec.Supersedes = supersedes
	if flagsJSON != nil && *flagsJSON != "" && *flagsJSON != "null" {
		if err := json.Unmarshal([]byte(*flagsJSON), &rec.ValidationFlags); err != nil {
			return nil, eris.Wrap(err, "cache: unmarshal validation flags")
		}
	}
	if metaJSON != nil && *metaJSON != "" && *metaJSON != "null" {
		if err := json.Unmarshal([]byte(*metaJSON), &rec.Metadata); err != nil {
			return nil, eris.Wrap(err, "cache: unmarshal metadata")
		}
	}
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
