// Package savestate keeps named save slots of blend stack state in SQLite.
//
// A slot holds the bytes produced by RootEvaluator.SaveState together with
// the frame it was taken at. Loading a slot only succeeds on a root running
// the same rigs it was saved from.
package savestate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSlotNotFound is returned when no slot has the requested name.
var ErrSlotNotFound = errors.New("save slot not found")

// Snapshotter is what a slot is taken from and restored into.
// *gimbal.RootEvaluator implements it.
type Snapshotter interface {
	SaveState() ([]byte, error)
	LoadState(data []byte) error
	Frames() uint64
}

// Slot is one saved state.
type Slot struct {
	ID        string
	Name      string
	Frame     uint64
	State     []byte
	CreatedAt time.Time
}

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS save_slots (
	slot_id     TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	frame       INTEGER NOT NULL,
	state       BLOB NOT NULL,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// Store manages save slots in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations. Use ":memory:" for a
// throwaway store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #region save
// Save snapshots src into the slot called name, replacing what it held.
func (s *Store) Save(name string, src Snapshotter) (Slot, error) {
	state, err := src.SaveState()
	if err != nil {
		return Slot{}, fmt.Errorf("snapshot %s: %w", name, err)
	}

	slot := Slot{
		ID:        uuid.New().String(),
		Name:      name,
		Frame:     src.Frames(),
		State:     state,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(
		`INSERT INTO save_slots (slot_id, name, frame, state, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			slot_id = excluded.slot_id,
			frame = excluded.frame,
			state = excluded.state,
			created_at = excluded.created_at`,
		slot.ID, slot.Name, int64(slot.Frame), slot.State, slot.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Slot{}, fmt.Errorf("insert slot %s: %w", name, err)
	}
	return slot, nil
}

// #endregion save

// #region load
// Get reads the slot called name.
func (s *Store) Get(name string) (Slot, error) {
	var slot Slot
	var frame int64
	var createdStr string

	err := s.db.QueryRow(
		`SELECT slot_id, name, frame, state, created_at FROM save_slots WHERE name = ?`, name,
	).Scan(&slot.ID, &slot.Name, &frame, &slot.State, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, fmt.Errorf("get slot %s: %w", name, ErrSlotNotFound)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("get slot %s: %w", name, err)
	}
	slot.Frame = uint64(frame)
	slot.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return slot, nil
}

// Load restores the slot called name into dst.
func (s *Store) Load(name string, dst Snapshotter) (Slot, error) {
	slot, err := s.Get(name)
	if err != nil {
		return Slot{}, err
	}
	if err := dst.LoadState(slot.State); err != nil {
		return Slot{}, fmt.Errorf("restore slot %s: %w", name, err)
	}
	return slot, nil
}

// #endregion load

// #region list
// List returns the most recent slots without their state bytes.
func (s *Store) List(limit int) ([]Slot, error) {
	rows, err := s.db.Query(
		`SELECT slot_id, name, frame, created_at FROM save_slots
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var slot Slot
		var frame int64
		var createdStr string
		if err := rows.Scan(&slot.ID, &slot.Name, &frame, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		slot.Frame = uint64(frame)
		slot.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// #endregion list

// Delete removes the slot called name.
func (s *Store) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM save_slots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete slot %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete slot %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("delete slot %s: %w", name, ErrSlotNotFound)
	}
	return nil
}
