package story

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is one saved version of a named story.
type Snapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Words     int       `json:"words"`

	// Story is empty in listings.
	Story Story `json:"story"`
}

// Store persists story snapshots in SQLite. Every save appends a new
// row; nothing is overwritten.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a snapshot database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate story snapshots: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS story_snapshots (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			title      TEXT NOT NULL,
			words      INTEGER NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_story_snapshots_name
			ON story_snapshots (name, id);
	`)
	return err
}

// Save appends a snapshot of st under name and returns its id. Ids are
// UUIDv7, so they sort in save order.
func (s *Store) Save(name string, st Story) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate snapshot id: %w", err)
	}
	st = st.Clone()
	body, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encode story: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO story_snapshots (id, name, title, words, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), name, st.Metadata.Title, st.TotalWords(), string(body),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return id.String(), nil
}

// Latest returns the newest snapshot for name, or nil and no error when
// none exists.
func (s *Store) Latest(name string) (*Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, name, title, words, body, created_at FROM story_snapshots
		 WHERE name = ? ORDER BY id DESC LIMIT 1`,
		name,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", name, err)
	}
	return snap, nil
}

// Get returns the snapshot with the given id, or nil and no error when
// it does not exist.
func (s *Store) Get(id string) (*Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, name, title, words, body, created_at FROM story_snapshots WHERE id = ?`,
		id,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// List returns the snapshots saved under name, newest first, without
// story bodies. The result is empty (non-nil) when there are none.
func (s *Store) List(name string) ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, name, title, words, created_at FROM story_snapshots
		 WHERE name = ? ORDER BY id DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", name, err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var snap Snapshot
		var created string
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Title, &snap.Words, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CreatedAt = parseTime(created)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var snap Snapshot
	var body, created string
	if err := row.Scan(&snap.ID, &snap.Name, &snap.Title, &snap.Words, &body, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), &snap.Story); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	snap.Story.normalize()
	snap.CreatedAt = parseTime(created)
	return &snap, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
