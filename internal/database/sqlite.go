package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"leakwatch/internal/database/migrations"
	"leakwatch/internal/model"
	"leakwatch/internal/monitor"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned by updates that target a missing row.
var ErrNotFound = errors.New("not found")

const eventColumns = `id, file_name, event_type, timestamp, sha256, suspicious, created_at`
const alertColumns = `id, file_event_id, severity, acknowledged, created_at, actions_taken`
const fingerprintColumns = `id, file_path, sha256, size, last_seen, created_at`

// SQLiteStore implements monitor.EventStore on a single SQLite connection.
// Every method holds mu for its whole duration, so callers on different
// goroutines observe a total order of operations.
type SQLiteStore struct {
	mu    sync.Mutex
	db    *sql.DB
	path  string
	clock monitor.Clock
}

// NewSQLiteStore opens path (a file or ":memory:") and applies pending migrations.
func NewSQLiteStore(path string, clock monitor.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteStoreFromDB(db, path, clock), nil
}

// NewSQLiteStoreFromDB wraps an already migrated connection.
func NewSQLiteStoreFromDB(db *sql.DB, path string, clock monitor.Clock) *SQLiteStore {
	if clock == nil {
		clock = monitor.RealClock{}
	}
	return &SQLiteStore{db: db, path: path, clock: clock}
}

// OpenConnection opens a SQLite connection configured for leakwatch.
// The pool is pinned to one connection so an in-memory database is shared
// by every query and foreign keys stay enabled.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database location given at construction.
func (s *SQLiteStore) Path() string { return s.path }

// Event operations

func (s *SQLiteStore) SaveEvent(event *model.FileEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.FileName == "" {
		return 0, fmt.Errorf("saving event: file name is empty")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO file_events (file_name, event_type, timestamp, sha256, suspicious, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.FileName, string(event.Type), event.Timestamp.UTC(), event.ContentHash, event.Suspicious, event.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("saving event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetEvent(id int64) (*model.FileEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM file_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding event %d: %w", id, err)
	}
	return e, nil
}

func (s *SQLiteStore) GetAllEvents() ([]*model.FileEvent, error) {
	return s.queryEvents("listing events",
		`SELECT `+eventColumns+` FROM file_events ORDER BY timestamp DESC, id DESC`)
}

func (s *SQLiteStore) GetEventsByDateRange(start, end time.Time) ([]*model.FileEvent, error) {
	if start.After(end) {
		return []*model.FileEvent{}, nil
	}
	return s.queryEvents("listing events by date range",
		`SELECT `+eventColumns+` FROM file_events
		 WHERE timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp DESC, id DESC`,
		start.UTC(), end.UTC())
}

func (s *SQLiteStore) GetSuspiciousEvents() ([]*model.FileEvent, error) {
	return s.queryEvents("listing suspicious events",
		`SELECT `+eventColumns+` FROM file_events WHERE suspicious = 1 ORDER BY timestamp DESC, id DESC`)
}

func (s *SQLiteStore) queryEvents(op, query string, args ...any) ([]*model.FileEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	events := []*model.FileEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// Alert operations

func (s *SQLiteStore) SaveAlert(alert *model.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.clock.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO alerts (file_event_id, severity, acknowledged, created_at, actions_taken)
		 VALUES (?, ?, ?, ?, ?)`,
		alert.FileEventID, alert.Severity.String(), alert.Acknowledged, alert.CreatedAt.UTC(), alert.ActionsTaken,
	)
	if err != nil {
		return 0, fmt.Errorf("saving alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading alert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetAlert(id int64) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding alert %d: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAllAlerts() ([]*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*model.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("listing alerts: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, nil
}

func (s *SQLiteStore) AcknowledgeAlert(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledging alert %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledging alert %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("acknowledging alert %d: %w", id, ErrNotFound)
	}
	return nil
}

// Fingerprint operations

func (s *SQLiteStore) UpsertFingerprint(fp *model.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	lastSeen := fp.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}

	_, err := s.db.Exec(
		`INSERT INTO file_fingerprints (file_path, sha256, size, last_seen, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (file_path) DO UPDATE SET
		     sha256 = excluded.sha256,
		     size = excluded.size,
		     last_seen = excluded.last_seen`,
		fp.FilePath, fp.ContentHash, fp.Size, lastSeen.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("upserting fingerprint for %s: %w", fp.FilePath, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFingerprint(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM file_fingerprints WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("deleting fingerprint for %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) FindFingerprintsByHash(hash string) ([]*model.Fingerprint, error) {
	return s.queryFingerprints("finding fingerprints by hash",
		`SELECT `+fingerprintColumns+` FROM file_fingerprints WHERE sha256 = ? ORDER BY file_path`, hash)
}

func (s *SQLiteStore) FindFingerprintsUnder(root string) ([]*model.Fingerprint, error) {
	root = strings.TrimSuffix(root, "/")
	return s.queryFingerprints("finding fingerprints under root",
		`SELECT `+fingerprintColumns+` FROM file_fingerprints
		 WHERE file_path = ? OR file_path LIKE ? ESCAPE '\'
		 ORDER BY file_path`,
		root, escapeLike(root)+"/%")
}

func (s *SQLiteStore) queryFingerprints(op, query string, args ...any) ([]*model.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	fps := []*model.Fingerprint{}
	for rows.Next() {
		var fp model.Fingerprint
		if err := rows.Scan(&fp.ID, &fp.FilePath, &fp.ContentHash, &fp.Size, &fp.LastSeen, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		fps = append(fps, &fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return fps, nil
}

// Maintenance

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
// destPath must not exist.
func (s *SQLiteStore) BackupTo(destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.FileEvent, error) {
	var e model.FileEvent
	var typ string
	if err := row.Scan(&e.ID, &e.FileName, &typ, &e.Timestamp, &e.ContentHash, &e.Suspicious, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = model.EventType(typ)
	return &e, nil
}

func scanAlert(row scanner) (*model.Alert, error) {
	var a model.Alert
	var sev string
	if err := row.Scan(&a.ID, &a.FileEventID, &sev, &a.Acknowledged, &a.CreatedAt, &a.ActionsTaken); err != nil {
		return nil, err
	}
	parsed, err := model.ParseSeverity(sev)
	if err != nil {
		return nil, err
	}
	a.Severity = parsed
	return &a, nil
}

// escapeLike escapes LIKE wildcards so a path is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Compile-time check that SQLiteStore implements monitor.EventStore
var _ monitor.EventStore = (*SQLiteStore)(nil)
