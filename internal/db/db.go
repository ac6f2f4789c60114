// Package db stores observations and raw captures in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/pms/internal/sensor"
)

type DB struct {
	*sql.DB
}

// NewDB opens the database at path and applies every pending migration.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenDB opens the database at path without touching its schema, for the
// migrate commands.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// the migrate driver and inserts share one connection
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{sqlDB}, nil
}

// RecordObservation inserts one row per field of obs in a single transaction.
func (db *DB) RecordObservation(ctx context.Context, obs sensor.Observation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (time, sensor, field, value, unit) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range obs.Fields() {
		if _, err := stmt.ExecContext(ctx, obs.Time(), obs.Sensor(), f.Name, f.Value, f.Meta.Unit); err != nil {
			return fmt.Errorf("failed to insert %s: %w", f.Name, err)
		}
	}
	return tx.Commit()
}

// RecordCapture stores an undecoded answer.
func (db *DB) RecordCapture(ctx context.Context, msg sensor.RawMessage) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO captures (time, sensor, hex) VALUES (?, ?, ?)`,
		msg.Time, msg.Sensor, msg.Hex())
	return err
}

// Captures returns the stored answers of sensorName in time order. An empty
// name returns every capture.
func (db *DB) Captures(ctx context.Context, sensorName string) ([]sensor.RawMessage, error) {
	query := `SELECT time, sensor, hex FROM captures`
	var args []any
	if sensorName != "" {
		query += ` WHERE sensor = ? COLLATE NOCASE`
		args = append(args, strings.TrimSpace(sensorName))
	}
	query += ` ORDER BY time, rowid`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []sensor.RawMessage
	for rows.Next() {
		var (
			t    int64
			name string
			hex  string
		)
		if err := rows.Scan(&t, &name, &hex); err != nil {
			return nil, err
		}
		msg, err := sensor.ParseRawMessage(t, name, hex)
		if err != nil {
			return nil, fmt.Errorf("capture at %d: %w", t, err)
		}
		captures = append(captures, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return captures, nil
}

// CountObservations returns the number of distinct observation times stored
// for sensorName.
func (db *DB) CountObservations(ctx context.Context, sensorName string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT time) FROM observations WHERE sensor = ? COLLATE NOCASE`,
		sensorName).Scan(&n)
	return n, err
}
