// Package codecache persists parsed method programs in a SQLite database,
// keyed by the content hash of their source.
package codecache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/roxor/compiler"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

func log() commonlog.Logger {
	return commonlog.GetLogger("roxor.codecache")
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codecache: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

const schema = `CREATE TABLE IF NOT EXISTS programs (
	hash       TEXT PRIMARY KEY,
	program    BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// Store is a compiler.Store backed by SQLite. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

var _ compiler.Store = (*Store)(nil)

// Open opens (creating if needed) the cache database at path. Use
// ":memory:" for a private in-memory cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("codecache: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: configure %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: create schema in %s: %w", path, err)
	}
	log().Debugf("opened code cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Load returns the program stored under hash. The boolean is false when no
// entry exists.
func (s *Store) Load(hash string) (*compiler.Program, bool, error) {
	var data []byte
	err := s.db.QueryRow("SELECT program FROM programs WHERE hash = ?", hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("codecache: load %s: %w", hash, err)
	}
	prog, err := Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("codecache: load %s: %w", hash, err)
	}
	return prog, true, nil
}

// Save stores prog under hash, replacing any previous entry.
func (s *Store) Save(hash string, prog *compiler.Program) error {
	data, err := Marshal(prog)
	if err != nil {
		return fmt.Errorf("codecache: save %s: %w", hash, err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO programs (hash, program, created_at) VALUES (?, ?, ?)",
		hash, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("codecache: save %s: %w", hash, err)
	}
	return nil
}

// Count returns the number of stored programs.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("codecache: count: %w", err)
	}
	return n, nil
}

// Purge removes entries created before cutoff and returns how many were
// deleted.
func (s *Store) Purge(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM programs WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("codecache: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Marshal encodes a program as canonical CBOR. Equal programs encode to
// equal bytes.
func Marshal(prog *compiler.Program) ([]byte, error) {
	return encMode.Marshal(prog)
}

// Unmarshal decodes a program produced by Marshal.
func Unmarshal(data []byte) (*compiler.Program, error) {
	var prog compiler.Program
	if err := cbor.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("unmarshal program: %w", err)
	}
	return &prog, nil
}
