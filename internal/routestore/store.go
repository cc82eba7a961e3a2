// Package routestore persists named swap routes in SQLite.
package routestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"dex-gocopy/internal/swappath"
)

var ErrNotFound = errors.New("route not found")

const memoryPath = ":memory:"

type Store struct {
	db *sql.DB
}

// Entry is a stored route with its bookkeeping columns.
type Entry struct {
	Name      string          `json:"name"`
	Route     swappath.Stored `json:"route"`
	CreatedAt time.Time       `json:"created_at"`
}

// Open opens (creating if needed) the database at path; ":memory:" or an
// empty path keeps it in memory.
func Open(path string) (*Store, error) {
	if path == "" {
		path = memoryPath
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(path != memoryPath); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(onDisk bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stmts []string
	if onDisk {
		stmts = append(stmts, `PRAGMA journal_mode=WAL;`)
	}
	stmts = append(stmts, `
CREATE TABLE IF NOT EXISTS swap_routes (
  name TEXT PRIMARY KEY,
  form TEXT NOT NULL,
  value TEXT NOT NULL,
  swap_index INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);`)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Save stores r under name, replacing any previous route of that name.
func (s *Store) Save(ctx context.Context, name string, r swappath.Stored) error {
	if name == "" {
		return errors.New("route name is empty")
	}
	switch r.Form {
	case swappath.FormJSON, swappath.FormHex, swappath.FormTx:
	default:
		return fmt.Errorf("unknown stored route form %q", r.Form)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO swap_routes (name, form, value, swap_index, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  form = excluded.form,
  value = excluded.value,
  swap_index = excluded.swap_index,
  created_at = excluded.created_at`,
		name, string(r.Form), r.Value, r.SwapIndex, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save route %q: %w", name, err)
	}
	return nil
}

// SaveRoute renders route in form (json or hex) and stores it.
func (s *Store) SaveRoute(ctx context.Context, name string, route swappath.Route, form swappath.Form) error {
	stored, err := swappath.Store(route, form)
	if err != nil {
		return err
	}
	return s.Save(ctx, name, stored)
}

func (s *Store) Get(ctx context.Context, name string) (swappath.Stored, error) {
	var (
		out  swappath.Stored
		form string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT form, value, swap_index FROM swap_routes WHERE name = ?`, name,
	).Scan(&form, &out.Value, &out.SwapIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return swappath.Stored{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return swappath.Stored{}, fmt.Errorf("get route %q: %w", name, err)
	}
	out.Form = swappath.Form(form)
	return out, nil
}

// Load fetches name and turns it back into a route. Transaction references
// need a resolver.
func (s *Store) Load(ctx context.Context, name string, resolver swappath.TxRouteResolver) (swappath.Route, error) {
	stored, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return swappath.Load(ctx, stored, resolver)
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM swap_routes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete route %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// List returns every stored route ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, form, value, swap_index, created_at FROM swap_routes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			form    string
			created int64
		)
		if err := rows.Scan(&e.Name, &form, &e.Route.Value, &e.Route.SwapIndex, &created); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		e.Route.Form = swappath.Form(form)
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
