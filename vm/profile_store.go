package vm

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested profile run doesn't exist.
var ErrRunNotFound = errors.New("profile run not found")

// ProfileStore persists profiler snapshots in SQLite.
type ProfileStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

const profileSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	started      INTEGER NOT NULL,
	saved        INTEGER NOT NULL,
	instructions INTEGER NOT NULL,
	invocations  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS opcodes (
	run    TEXT NOT NULL REFERENCES runs(id),
	opcode INTEGER NOT NULL,
	name   TEXT NOT NULL,
	count  INTEGER NOT NULL,
	nanos  INTEGER NOT NULL,
	PRIMARY KEY (run, opcode)
);
CREATE TABLE IF NOT EXISTS functions (
	run      TEXT NOT NULL REFERENCES runs(id),
	function TEXT NOT NULL,
	count    INTEGER NOT NULL,
	PRIMARY KEY (run, function)
);`

// OpenProfileStore opens (creating if needed) the profile database at path.
func OpenProfileStore(path string) (*ProfileStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening profile database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating profile tables: %w", err)
	}
	return &ProfileStore{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *ProfileStore) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *ProfileStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores a snapshot as a new run and returns the run id.
func (s *ProfileStore) Save(stats ProfilerStats) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	tx, err := s.db.Begin()
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving profile: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO runs (id, started, saved, instructions, invocations) VALUES (?, ?, ?, ?, ?)",
		id.String(), stats.Started.UnixNano(), time.Now().UnixNano(),
		int64(stats.Instructions), int64(stats.Invocations),
	); err != nil {
		return uuid.Nil, fmt.Errorf("saving run: %w", err)
	}
	for _, o := range stats.Opcodes {
		if _, err := tx.Exec(
			"INSERT INTO opcodes (run, opcode, name, count, nanos) VALUES (?, ?, ?, ?, ?)",
			id.String(), int(o.Opcode), o.Opcode.String(), int64(o.Count), int64(o.Total),
		); err != nil {
			return uuid.Nil, fmt.Errorf("saving opcode %s: %w", o.Opcode, err)
		}
	}
	for _, f := range stats.Functions {
		if _, err := tx.Exec(
			"INSERT INTO functions (run, function, count) VALUES (?, ?, ?)",
			id.String(), f.Function, int64(f.Count),
		); err != nil {
			return uuid.Nil, fmt.Errorf("saving function %s: %w", f.Function, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("saving profile: %w", err)
	}
	log.Debugf("saved profile run %s to %s", id, s.dbPath)
	return id, nil
}

// Load retrieves a stored run.
func (s *ProfileStore) Load(id uuid.UUID) (ProfilerStats, error) {
	var stats ProfilerStats
	var started, instructions, invocations int64
	err := s.db.QueryRow(
		"SELECT started, instructions, invocations FROM runs WHERE id = ?", id.String(),
	).Scan(&started, &instructions, &invocations)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return stats, fmt.Errorf("querying run: %w", err)
	}
	stats.Started = time.Unix(0, started)
	stats.Instructions = uint64(instructions)
	stats.Invocations = uint64(invocations)

	rows, err := s.db.Query("SELECT opcode, count, nanos FROM opcodes WHERE run = ? ORDER BY opcode", id.String())
	if err != nil {
		return stats, fmt.Errorf("querying opcodes: %w", err)
	}
	for rows.Next() {
		var op int
		var count, nanos int64
		if err := rows.Scan(&op, &count, &nanos); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scanning opcode: %w", err)
		}
		stats.Opcodes = append(stats.Opcodes, OpcodeProfile{Opcode: Opcode(op), Count: uint64(count), Total: time.Duration(nanos)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.Query("SELECT function, count FROM functions WHERE run = ? ORDER BY function", id.String())
	if err != nil {
		return stats, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp FunctionProfile
		var count int64
		if err := rows.Scan(&fp.Function, &count); err != nil {
			return stats, fmt.Errorf("scanning function: %w", err)
		}
		fp.Count = uint64(count)
		stats.Functions = append(stats.Functions, fp)
	}
	return stats, rows.Err()
}

// Runs lists stored run ids, oldest first.
func (s *ProfileStore) Runs() ([]uuid.UUID, error) {
	rows, err := s.db.Query("SELECT id FROM runs ORDER BY saved, id")
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("run id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
