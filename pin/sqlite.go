// Package pin is the C2 pin store: a durable set of protected CIDs,
// each carrying a depth and a metadata bag, backed by SQLite alongside
// the blockstore's badger4 directory.
package pin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dbOptions mirrors gloudx-ues/sqlite.Options' PRAGMA knobs, trimmed to
// the subset the pin store actually tunes.
type dbOptions struct {
	DriverName      string
	JournalMode     string
	Synchronous     string
	BusyTimeout     time.Duration
	ForeignKeys     *bool
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func defaultDBOptions() dbOptions {
	return dbOptions{
		DriverName:  "sqlite3",
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5 * time.Second,
	}
}

// db is a thin wrapper around *sql.DB, adapted from
// gloudx-ues/sqlite.Database: same PRAGMA-driven open sequence and Tx
// wrapper, with the driver name corrected to "sqlite3" (the teacher's
// generic wrapper defaulted to the unregistered "sqlite", inconsistent
// with entitystore.go's own "sqlite3" open call).
type db struct {
	conn *sql.DB
}

func openDB(path string, opts dbOptions) (*db, error) {
	if path == "" {
		return nil, errors.New("pin: empty sqlite path")
	}

	driver := opts.DriverName
	if driver == "" {
		driver = "sqlite3"
	}
	journal := opts.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	syncMode := opts.Synchronous
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", journal),
		fmt.Sprintf("PRAGMA synchronous=%s", syncMode),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	}
	if opts.ForeignKeys == nil || *opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	} else {
		pragmas = append(pragmas, "PRAGMA foreign_keys=OFF")
	}

	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("pin: apply %s: %w", p, err)
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return &db{conn: conn}, nil
}

func (d *db) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
