package ipns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"corenode/corerr"
)

// StoredRecord is one local record-store row: the marshaled bytes plus
// the bookkeeping fields the publish orchestrator and republish loop
// need without re-parsing the record itself.
type StoredRecord struct {
	KeyName        string
	RoutingKey     string
	Raw            []byte
	Sequence       uint64
	RepublishAfter time.Time
}

// LocalStore is the C13 local record store: spec.md §4.13 requires the
// publish orchestrator to read the prior local record to compute the
// next sequence, and the republish loop to scan for records whose
// republish_after has passed.
type LocalStore interface {
	Put(ctx context.Context, rec StoredRecord) error
	Get(ctx context.Context, routingKey string) (StoredRecord, bool, error)
	GetByKeyName(ctx context.Context, keyName string) (StoredRecord, bool, error)
	Due(ctx context.Context, now time.Time) ([]StoredRecord, error)
	Delete(ctx context.Context, keyName string) error
	Close() error
}

// dbOptions/db/openDB follow the same PRAGMA-driven sqlite wrapper
// shape as pin/sqlite.go (itself adapted from gloudx-ues/sqlite.go),
// duplicated rather than imported since pin's db type is unexported and
// this store lives in a different package with its own schema.
type dbOptions struct {
	JournalMode string
	Synchronous string
	BusyTimeout time.Duration
}

func defaultDBOptions() dbOptions {
	return dbOptions{JournalMode: "WAL", Synchronous: "NORMAL", BusyTimeout: 5 * time.Second}
}

func openDB(path string, opts dbOptions) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("ipns: empty sqlite path")
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", opts.JournalMode),
		fmt.Sprintf("PRAGMA synchronous=%s", opts.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ipns: apply %s: %w", p, err)
		}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

type sqliteStore struct {
	db *sql.DB
}

// OpenStore opens (or creates) the local IPNS record store at path.
func OpenStore(path string) (LocalStore, error) {
	conn, err := openDB(path, defaultDBOptions())
	if err != nil {
		return nil, err
	}
	s := &sqliteStore{db: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ipns_records (
		key_name TEXT PRIMARY KEY,
		routing_key TEXT NOT NULL,
		raw BLOB NOT NULL,
		sequence INTEGER NOT NULL,
		republish_after DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ipns_routing_key ON ipns_records(routing_key);
	CREATE INDEX IF NOT EXISTS idx_ipns_republish_after ON ipns_records(republish_after);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("ipns: create schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) Put(ctx context.Context, rec StoredRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ipns_records (key_name, routing_key, raw, sequence, republish_after)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key_name) DO UPDATE SET
		   routing_key = excluded.routing_key,
		   raw = excluded.raw,
		   sequence = excluded.sequence,
		   republish_after = excluded.republish_after`,
		rec.KeyName, rec.RoutingKey, rec.Raw, rec.Sequence, rec.RepublishAfter)
	if err != nil {
		return corerr.Wrap(corerr.Unknown, "ipns: put record", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, routingKey string) (StoredRecord, bool, error) {
	return s.queryOne(ctx, "routing_key", routingKey)
}

func (s *sqliteStore) GetByKeyName(ctx context.Context, keyName string) (StoredRecord, bool, error) {
	return s.queryOne(ctx, "key_name", keyName)
}

func (s *sqliteStore) queryOne(ctx context.Context, column, value string) (StoredRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT key_name, routing_key, raw, sequence, republish_after FROM ipns_records WHERE %s = ?`, column),
		value)

	var rec StoredRecord
	if err := row.Scan(&rec.KeyName, &rec.RoutingKey, &rec.Raw, &rec.Sequence, &rec.RepublishAfter); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredRecord{}, false, nil
		}
		return StoredRecord{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_name, routing_key, raw, sequence, republish_after FROM ipns_records WHERE republish_after <= ?`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		if err := rows.Scan(&rec.KeyName, &rec.RoutingKey, &rec.Raw, &rec.Sequence, &rec.RepublishAfter); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, keyName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ipns_records WHERE key_name = ?`, keyName)
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
