// Package store is the sqlite-backed persistence layer for everything the
// correction pipeline reads and writes: routes, per-participant location and
// previous-position state, checkpoint pass times, segment records, and the
// leaderboard ordered set. It is a thin *sql.DB wrapper with WAL pragmas
// applied on open and golang-migrate driving an embedded migrations
// filesystem.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/racecore/internal/monitoring"
	"github.com/banshee-data/racecore/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sqlite database holding all of the correction pipeline's
// persisted state. It is safe for concurrent use: callers relying on
// per-participant serialisation should go through WithParticipantLock
// rather than issuing unsynchronised reads and writes.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
	locks keyedMutex
}

// applyPragmas sets the WAL/concurrency pragmas on every sqlite handle
// regardless of how the database file was created.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("store: apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// Open opens (creating if necessary) the sqlite database at path, applies
// pragmas, and migrates the schema to the latest version. clock is used for
// every TTL and "now" computation the store performs; pass timeutil.RealClock{}
// in production and a timeutil.MockClock in tests.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	s := &Store{db: sqlDB, clock: clock, locks: newKeyedMutex()}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory is a convenience constructor for tests: an in-process,
// fully migrated sqlite database that disappears on Close.
func OpenInMemory(clock timeutil.Clock) (*Store, error) {
	return Open("file::memory:?cache=shared", clock)
}

func (s *Store) migrate() error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations sub-fs: %w", err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("store: iofs source driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}
	// Not calling m.Close(): the sqlite driver's Close() would close the
	// shared *sql.DB, which this Store continues to own.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithParticipantLock serialises fn against any other call for the same
// (eventDetailID, userID) pair, so two concurrent correct calls for the
// same participant behave as some sequential execution of those calls.
func (s *Store) WithParticipantLock(eventDetailID, userID int64, fn func() error) error {
	key := fmt.Sprintf("%d:%d", eventDetailID, userID)
	unlock := s.locks.Lock(key)
	defer unlock()
	return fn()
}

func (s *Store) now() int64 {
	return s.clock.Now().Unix()
}

func logStoreErr(op string, err error) {
	if err != nil {
		monitoring.Logf("store: %s failed: %v", op, err)
	}
}
