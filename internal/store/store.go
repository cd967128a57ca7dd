// Package store provides the durable event sink: a SQLite-backed
// implementation of the Event Store contract (persist, list/filter,
// delete-by-predicate) that the bus, gateway, and retention engine
// all depend on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/guardian-io/guardian/internal/types"
)

// Store is a SQLite-backed event log opened in WAL mode for
// concurrent read access from the gateway while the bus and retention
// engine write and delete.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes (creating if absent) the SQLite database at path
// and ensures its schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for the retention engine's
// index-maintenance and vacuum operations, which fall outside the
// plain Event Store contract.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts        INTEGER NOT NULL,
		source    TEXT NOT NULL,
		detector  TEXT NOT NULL,
		severity  TEXT NOT NULL,
		message   TEXT NOT NULL,
		meta      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEvent inserts e and returns it with ID populated. ts may be
// backdated relative to existing rows; id is always monotonic with
// insertion order.
func (s *Store) SaveEvent(e types.Event) (types.Event, error) {
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return e, fmt.Errorf("store: marshal meta: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO events (ts, source, detector, severity, message, meta) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Ts, e.Source, e.Detector, string(e.Severity), e.Message, string(metaJSON),
	)
	if err != nil {
		return e, fmt.Errorf("store: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return e, fmt.Errorf("store: last insert id: %w", err)
	}
	e.ID = id
	return e, nil
}

// Filter selects events matching every non-zero field. Channel may
// list several values (OR'd); Search is matched case-insensitively
// against message, detector, source, and meta.channel/camera/snapshot.
type Filter struct {
	Source       string
	Camera       string
	Channels     []string
	Detector     string
	Severity     string
	FromMs       int64
	ToMs         int64
	Search       string
	WithSnapshot *bool
	WithFace     *bool
	MinID        int64 // exclusive lower bound, for SSE resume
	Limit        int
}

// List returns events matching f in ascending ts order (or ascending
// id order when MinID is set, for resume-by-id semantics), plus the
// total count of matching rows ignoring Limit.
func (s *Store) List(ctx context.Context, f Filter) ([]types.Event, int, error) {
	where, args := buildWhere(f)

	countQuery := "SELECT COUNT(*) FROM events" + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count: %w", err)
	}

	orderBy := "ORDER BY ts ASC, id ASC"
	if f.MinID > 0 {
		orderBy = "ORDER BY id ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := "SELECT id, ts, source, detector, severity, message, meta FROM events" + where + " " + orderBy + " LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Get fetches a single event by id, or (zero, false, nil) if absent.
func (s *Store) Get(ctx context.Context, id int64) (types.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, ts, source, detector, severity, message, meta FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return types.Event{}, false, nil
	}
	if err != nil {
		return types.Event{}, false, err
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(r scanner) (types.Event, error) {
	var e types.Event
	var severity, metaJSON string
	if err := r.Scan(&e.ID, &e.Ts, &e.Source, &e.Detector, &severity, &e.Message, &metaJSON); err != nil {
		return e, err
	}
	e.Severity = types.Severity(severity)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &e.Meta); err != nil {
			return e, fmt.Errorf("store: unmarshal meta: %w", err)
		}
	}
	return e, nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Camera != "" {
		clauses = append(clauses, "json_extract(meta, '$.camera') = ?")
		args = append(args, f.Camera)
	}
	if len(f.Channels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Channels)), ",")
		clauses = append(clauses, fmt.Sprintf("json_extract(meta, '$.channel') IN (%s)", placeholders))
		for _, c := range f.Channels {
			args = append(args, c)
		}
	}
	if f.Detector != "" {
		clauses = append(clauses, "detector = ?")
		args = append(args, f.Detector)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.FromMs > 0 {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.FromMs)
	}
	if f.ToMs > 0 {
		clauses = append(clauses, "ts <= ?")
		args = append(args, f.ToMs)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		clauses = append(clauses, `(
			lower(message) LIKE ? OR lower(detector) LIKE ? OR lower(source) LIKE ? OR
			lower(json_extract(meta, '$.channel')) LIKE ? OR
			lower(json_extract(meta, '$.camera')) LIKE ? OR
			lower(json_extract(meta, '$.snapshot')) LIKE ?
		)`)
		args = append(args, like, like, like, like, like, like)
	}
	if f.WithSnapshot != nil {
		if *f.WithSnapshot {
			clauses = append(clauses, "json_extract(meta, '$.snapshot') IS NOT NULL")
		} else {
			clauses = append(clauses, "json_extract(meta, '$.snapshot') IS NULL")
		}
	}
	if f.WithFace != nil {
		if *f.WithFace {
			clauses = append(clauses, "json_extract(meta, '$.faceSnapshot') IS NOT NULL")
		} else {
			clauses = append(clauses, "json_extract(meta, '$.faceSnapshot') IS NULL")
		}
	}
	if f.MinID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.MinID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// DeleteOlderThan removes events with ts strictly before cutoffMs and
// returns the count removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("store: delete older than: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DiskUsageBytes reports the size of the main database's pages
// (page_count * page_size) for retention savings accounting; WAL and
// SHM sidecar files are not counted.
func (s *Store) DiskUsageBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

// EnsureIndexes creates any missing index from the declared set and
// returns the names it actually created.
func (s *Store) EnsureIndexes(ctx context.Context) ([]string, error) {
	declared := map[string]string{
		"idx_events_ts":       `CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		"idx_events_detector": `CREATE INDEX IF NOT EXISTS idx_events_detector ON events(detector)`,
	}
	var created []string
	for name, ddl := range declared {
		existsBefore, err := s.indexExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("store: ensure index %s: %w", name, err)
		}
		if !existsBefore {
			created = append(created, name)
		}
	}
	return created, nil
}

func (s *Store) indexExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Vacuum runs the checkpoint/reindex/analyze/vacuum/optimize sequence
// in the declared order. The sequence stops at the first failing step
// and returns that step's error, which the caller records as a warning.
func (s *Store) Vacuum(ctx context.Context, reindex, analyze, optimize bool, extraPragmas []string) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal_checkpoint: %w", err)
	}
	if reindex {
		if _, err := s.db.ExecContext(ctx, `REINDEX`); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}
	if analyze {
		if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if optimize {
		if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
			return fmt.Errorf("optimize: %w", err)
		}
	}
	for _, p := range extraPragmas {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "PRAGMA "+p); err != nil {
			return fmt.Errorf("pragma %s: %w", p, err)
		}
	}
	return nil
}
