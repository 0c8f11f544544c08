package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// serializes current-pointer updates; sqlite allows one writer anyway
	// but this keeps same-ticket version assignment race free in-process.
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	latitude           REAL,
	longitude          REAL,
	method             TEXT,
	approach           TEXT,
	confidence         REAL,
	reasoning          TEXT,
	error_message      TEXT,
	quality_tier       TEXT NOT NULL,
	review_priority    TEXT NOT NULL,
	validation_flags   TEXT,
	supersedes         INTEGER,
	is_current         INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	created_by_stage   TEXT NOT NULL,
	locked             INTEGER NOT NULL DEFAULT 0,
	lock_reason        TEXT,
	locked_at          DATETIME,
	locked_by          TEXT,
	metadata           TEXT,
	processing_time_ms REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (ticket_number, version)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	total_tickets INTEGER NOT NULL DEFAULT 0,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	summary       TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_current ON geocode_records(ticket_number, is_current);
CREATE INDEX IF NOT EXISTS idx_records_key ON geocode_records(geocode_key);
CREATE INDEX IF NOT EXISTS idx_records_tier ON geocode_records(quality_tier);
CREATE INDEX IF NOT EXISTS idx_records_priority ON geocode_records(review_priority);
CREATE INDEX IF NOT EXISTS idx_records_locked ON geocode_records(locked);
CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "cache: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `ticket_number, version, geocode_key,
	street, intersection, city, county, ticket_type, duration, work_type, excavator,
	latitude, longitude, method, approach, confidence, reasoning, error_message,
	quality_tier, review_priority, validation_flags,
	supersedes, is_current, created_at, created_by_stage,
	locked, lock_reason, locked_at, locked_by,
	metadata, processing_time_ms`

func (s *SQLiteStore) Current(ctx context.Context, ticketNumber string) (*model.GeocodeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM geocode_records WHERE ticket_number = ? AND is_current = 1`,
		ticketNumber,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: current %s", ticketNumber)
	}
	return rec, nil
}

func (s *SQLiteStore) History(ctx context.Context, ticketNumber string) ([]model.GeocodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM geocode_records WHERE ticket_number = ? ORDER BY version DESC`,
		ticketNumber,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: history %s", ticketNumber)
	}
	defer rows.Close()

	var recs []model.GeocodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "cache: scan history row")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "cache: history iterate")
}

// Put stores rec as the new current version for its ticket. The prior
// current is marked non-current in the same transaction. A locked prior
// record rejects the write unless stageID is the human review stage.
func (s *SQLiteStore) Put(ctx context.Context, rec *model.GeocodeRecord, stageID string) (*model.GeocodeRecord, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError("begin put", err)
	}
	defer tx.Rollback()

	var prevVersion int
	var prevLocked bool
	err = tx.QueryRowContext(ctx,
		`SELECT version, locked FROM geocode_records WHERE ticket_number = ? AND is_current = 1`,
		rec.TicketNumber,
	).Scan(&prevVersion, &prevLocked)

	switch {
	case err == sql.ErrNoRows:
		rec.Version = 1
		rec.Supersedes = nil
	case err != nil:
		return nil, model.NewStorageError("read prior current", err)
	default:
		if prevLocked && stageID != model.StageHumanReview {
			return nil, model.NewLockedError(
				fmt.Sprintf("ticket %s current record is locked", rec.TicketNumber))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE geocode_records SET is_current = 0 WHERE ticket_number = ? AND version = ?`,
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO geocode_records (`+recordColumns+`) VALUES
		 (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TicketNumber, rec.Version, rec.GeocodeKey,
		rec.Street, rec.Intersection, rec.City, rec.County,
		rec.TicketType, rec.Duration, rec.WorkType, rec.Excavator,
		rec.Latitude, rec.Longitude, rec.Method, rec.Approach, rec.Confidence,
		rec.Reasoning, rec.ErrorMessage,
		string(rec.QualityTier), string(rec.ReviewPriority), string(flagsJSON),
		rec.Supersedes, boolToInt(rec.IsCurrent), rec.CreatedAt, rec.CreatedByStage,
		boolToInt(rec.Locked), rec.LockReason, rec.LockedAt, rec.LockedBy,
		string(metaJSON), rec.ProcessingTimeMs,
	)
	if err != nil {
		return nil, model.NewStorageError("insert record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError("commit put", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Lock(ctx context.Context, ticketNumber, reason, actor string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geocode_records SET locked = 1, lock_reason = ?, locked_at = ?, locked_by = ?
		 WHERE ticket_number = ? AND is_current = 1`,
		reason, time.Now().UTC(), actor, ticketNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "cache: lock %s", ticketNumber)
	}
	return checkRowsAffected(res, "current record", ticketNumber)
}

func (s *SQLiteStore) Unlock(ctx context.Context, ticketNumber string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geocode_records SET locked = 0, lock_reason = NULL, locked_at = NULL, locked_by = NULL
		 WHERE ticket_number = ? AND is_current = 1`,
		ticketNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "cache: unlock %s", ticketNumber)
	}
	return checkRowsAffected(res, "current record", ticketNumber)
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]model.GeocodeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM geocode_records WHERE 1=1`
	var args []any

	if filter.CurrentOnly {
		query += ` AND is_current = 1`
	}
	if len(filter.Tiers) > 0 {
		query += ` AND quality_tier IN (` + placeholders(len(filter.Tiers)) + `)`
		for _, t := range filter.Tiers {
			args = append(args, string(t))
		}
	}
	if len(filter.Priorities) > 0 {
		query += ` AND review_priority IN (` + placeholders(len(filter.Priorities)) + `)`
		for _, p := range filter.Priorities {
			args = append(args, string(p))
		}
	}
	if filter.Locked != nil {
		query += ` AND locked = ?`
		args = append(args, boolToInt(*filter.Locked))
	}
	if len(filter.Methods) > 0 {
		query += ` AND method IN (` + placeholders(len(filter.Methods)) + `)`
		for _, m := range filter.Methods {
			args = append(args, m)
		}
	}
	if filter.MinConfidence != nil {
		query += ` AND confidence >= ?`
		args = append(args, *filter.MinConfidence)
	}
	if filter.GeocodeKey != "" {
		query += ` AND geocode_key = ?`
		args = append(args, filter.GeocodeKey)
	}
	query += ` ORDER BY ticket_number, version`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "cache: query")
	}
	defer rows.Close()

	var recs []model.GeocodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "cache: scan query row")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "cache: query iterate")
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		TierCounts:     map[model.QualityTier]int{},
		PriorityCounts: map[model.ReviewPriority]int{},
		MethodCounts:   map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT quality_tier, review_priority, method, locked, COUNT(*)
		 FROM geocode_records WHERE is_current = 1
		 GROUP BY quality_tier, review_priority, method, locked`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: statistics")
	}
	defer rows.Close()

	for rows.Next() {
		var tier, priority string
		var method sql.NullString
		var locked bool
		var n int
		if err := rows.Scan(&tier, &priority, &method, &locked, &n); err != nil {
			return nil, eris.Wrap(err, "cache: scan statistics row")
		}
		stats.TotalRecords += n
		stats.TierCounts[model.QualityTier(tier)] += n
		stats.PriorityCounts[model.ReviewPriority(priority)] += n
		if method.Valid && method.String != "" {
			stats.MethodCounts[method.String] += n
		}
		if locked {
			stats.LockedCount += n
		}
	}
	return stats, eris.Wrap(rows.Err(), "cache: statistics iterate")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *PipelineRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, started_at, finished_at, total_tickets, succeeded, failed, skipped, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total_tickets = excluded.total_tickets,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			summary = excluded.summary`,
		run.ID, run.StartedAt, run.FinishedAt,
		run.TotalTickets, run.Succeeded, run.Failed, run.Skipped, run.Summary,
	)
	return eris.Wrap(err, "cache: record run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, total_tickets, succeeded, failed, skipped, summary
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: list runs")
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		var summary sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt,
			&r.TotalTickets, &r.Succeeded, &r.Failed, &r.Skipped, &summary); err != nil {
			return nil, eris.Wrap(err, "cache: scan run row")
		}
		r.Summary = summary.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "cache: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.GeocodeRecord, error) {
	var rec model.GeocodeRecord
	var street, intersection, city, county sql.NullString
	var ticketType, duration, workType, excavator sql.NullString
	var method, approach, reasoning, errorMessage sql.NullString
	var lockReason, lockedBy sql.NullString
	var flagsJSON, metaJSON sql.NullString
	var lockedAt sql.NullTime
	var supersedes sql.NullInt64

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

	rec.Street = street.String
	rec.Intersection = intersection.String
	rec.City = city.String
	rec.County = county.String
	rec.TicketType = ticketType.String
	rec.Duration = duration.String
	rec.WorkType = workType.String
	rec.Excavator = excavator.String
	rec.Method = method.String
	rec.Approach = approach.String
	rec.Reasoning = reasoning.String
	rec.ErrorMessage = errorMessage.String
	rec.LockReason = lockReason.String
	rec.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t := lockedAt.Time
		rec.LockedAt = &t
	}
	if supersedes.Valid {
		v := int(supersedes.Int64)
		rec.Supersedes = &v
	}
	if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &rec.ValidationFlags); err != nil {
			return nil, eris.Wrap(err, "cache: unmarshal validation flags")
		}
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, eris.Wrap(err, "cache: unmarshal metadata")
		}
	}
	return &rec, nil
}
