// Package store keeps a library of compiled programs in SQLite so that
// imports can be resolved by module name.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/haroldiedema/luma-language/pkg/bytecode"
	"github.com/haroldiedema/luma-language/vm"
)

var (
	// ErrNotFound indicates the requested module is not in the library.
	ErrNotFound = errors.New("module not found")
	// ErrUnnamed indicates a program without a module name was published.
	ErrUnnamed = errors.New("program has no module name")
)

var log = commonlog.GetLogger("luma.store")

// Entry describes one stored program.
type Entry struct {
	Module    string
	Hash      string
	Debug     bool
	Size      int
	UpdatedAt time.Time
}

// Store is a program library backed by a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the library at path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		module     TEXT PRIMARY KEY,
		hash       TEXT NOT NULL,
		debug      INTEGER NOT NULL,
		data       BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put encodes p and stores it under its module name, replacing any
// earlier version. It returns the program hash, computed when p has none.
func (s *Store) Put(ctx context.Context, p *bytecode.Program, debug bool) (string, error) {
	if p.ModuleName == "" {
		return "", ErrUnnamed
	}
	hash := p.Hash
	if hash == "" {
		var err error
		if hash, err = bytecode.Fingerprint(p); err != nil {
			return "", fmt.Errorf("hashing %s: %w", p.ModuleName, err)
		}
	}
	clone := *p
	clone.Hash = hash
	data, err := bytecode.Encode(&clone, debug)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", p.ModuleName, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (module, hash, debug, data, updated_at) VALUES (?, ?, ?, ?, ?)",
		p.ModuleName, hash, debug, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", p.ModuleName, err)
	}
	log.Debugf("stored %s (%s, %d bytes)", p.ModuleName, hash, len(data))
	return hash, nil
}

// Get loads and decodes the program stored for module.
func (s *Store) Get(ctx context.Context, module string) (*bytecode.Program, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM programs WHERE module = ?", module).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, module)
		}
		return nil, fmt.Errorf("querying %s: %w", module, err)
	}
	p, err := bytecode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", module, err)
	}
	return p, nil
}

// List returns all stored programs ordered by module name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT module, hash, debug, length(data), updated_at FROM programs ORDER BY module")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var updated int64
		if err := rows.Scan(&e.Module, &e.Hash, &e.Debug, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("scanning program row: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes module from the library.
func (s *Store) Delete(ctx context.Context, module string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE module = ?", module)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", module, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, module)
	}
	log.Debugf("deleted %s", module)
	return nil
}

// Resolver returns a module resolver backed by the library. Missing
// modules resolve to nil so the VM reports an unresolved import.
func (s *Store) Resolver(ctx context.Context) vm.ModuleResolver {
	return func(name string) (*bytecode.Program, error) {
		p, err := s.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return p, err
	}
}
