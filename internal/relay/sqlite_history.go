package relay

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/shared.frame/internal/wire"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteHistory is a HistoryStore backed by sqlite. It keeps retained
// payloads out of the relay's heap and lets operators inspect them with any
// sqlite client. Room sessions do not outlive the relay process; NewRooms
// purges whatever a previous process left behind.
type SQLiteHistory struct {
	db *sql.DB
}

// OpenSQLiteHistory opens (or creates) the store at path and migrates it to
// the latest schema. Use ":memory:" for a throwaway store.
func OpenSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteHistory{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load history migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Append implements HistoryStore.
func (h *SQLiteHistory) Append(room string, env wire.Envelope) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM retained_messages WHERE room = ? AND sender = ? AND msg_type = ?`,
		room, env.Sender, int(env.Type),
	); err != nil {
		return fmt.Errorf("failed to replace retained message: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO retained_messages (room, sender, msg_type, payload) VALUES (?, ?, ?, ?)`,
		room, env.Sender, int(env.Type), env.Payload,
	); err != nil {
		return fmt.Errorf("failed to insert retained message: %w", err)
	}
	return tx.Commit()
}

// List implements HistoryStore.
func (h *SQLiteHistory) List(room string) ([]wire.Envelope, error) {
	rows, err := h.db.Query(
		`SELECT sender, msg_type, payload FROM retained_messages WHERE room = ? ORDER BY id`,
		room,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query retained messages: %w", err)
	}
	defer rows.Close()

	var out []wire.Envelope
	for rows.Next() {
		var (
			env     wire.Envelope
			msgType int
		)
		if err := rows.Scan(&env.Sender, &msgType, &env.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan retained message: %w", err)
		}
		env.Type = wire.MessageType(msgType)
		out = append(out, env)
	}
	return out, rows.Err()
}

// PurgeSender implements HistoryStore.
func (h *SQLiteHistory) PurgeSender(room string, peer int) error {
	if _, err := h.db.Exec(`DELETE FROM retained_messages WHERE room = ? AND sender = ?`, room, peer); err != nil {
		return fmt.Errorf("failed to purge sender history: %w", err)
	}
	return nil
}

// Purge implements HistoryStore.
func (h *SQLiteHistory) Purge(room string) error {
	if _, err := h.db.Exec(`DELETE FROM retained_messages WHERE room = ?`, room); err != nil {
		return fmt.Errorf("failed to purge room history: %w", err)
	}
	return nil
}

// Rooms returns the names of rooms that still have retained messages.
func (h *SQLiteHistory) Rooms() ([]string, error) {
	rows, err := h.db.Query(`SELECT DISTINCT room FROM retained_messages ORDER BY room`)
	if err != nil {
		return nil, fmt.Errorf("failed to list history rooms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// Close implements HistoryStore.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
