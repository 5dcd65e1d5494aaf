package pin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"corenode/corerr"
)

// DepthKind distinguishes a pin's three depth shapes. "0", "unbounded",
// and "a positive hop count" aren't points on one number line — a
// caller checking "is this unbounded" shouldn't have to remember the
// sentinel is -1 — so Depth carries one explicitly instead of aliasing
// a bare int.
type DepthKind int

const (
	// DepthDirect protects only the pinned block itself.
	DepthDirect DepthKind = iota
	// DepthBounded recursively protects every block within N hops of
	// the pinned root.
	DepthBounded
	// DepthUnbounded recursively protects every block transitively
	// linked from the pinned root.
	DepthUnbounded
)

// Depth controls how far a pin's protection extends from its root CID.
type Depth struct {
	Kind DepthKind
	N    int // meaningful only when Kind == DepthBounded
}

// Direct and Unbounded are the two depths with no associated hop count.
var (
	Direct    = Depth{Kind: DepthDirect}
	Unbounded = Depth{Kind: DepthUnbounded}
)

// Bounded is a recursive pin limited to n hops from the root.
func Bounded(n int) Depth { return Depth{Kind: DepthBounded, N: n} }

// DepthFromInt maps the wire/CLI convention (0 = direct, negative =
// unbounded, positive = bounded to n hops) onto Depth.
func DepthFromInt(n int) Depth {
	switch {
	case n < 0:
		return Unbounded
	case n == 0:
		return Direct
	default:
		return Bounded(n)
	}
}

// Int maps Depth back onto the wire/CLI convention DepthFromInt reads.
func (d Depth) Int() int {
	switch d.Kind {
	case DepthUnbounded:
		return -1
	case DepthBounded:
		return d.N
	default:
		return 0
	}
}

func (d Depth) String() string {
	switch d.Kind {
	case DepthUnbounded:
		return "unbounded"
	case DepthBounded:
		return fmt.Sprintf("bounded(%d)", d.N)
	default:
		return "direct"
	}
}

// Pin is a single entry in the store: a protected root plus how deep
// that protection reaches and an arbitrary metadata bag.
type Pin struct {
	CID      cid.Cid
	Depth    Depth
	Metadata map[string]any
}

// Store is the C2 contract: add, remove, list, is_pinned. Adding an
// existing CID is an upsert, per spec.md's pin set semantics.
type Store interface {
	Add(ctx context.Context, c cid.Cid, depth Depth, metadata map[string]any) error
	Remove(ctx context.Context, c cid.Cid) error
	List(ctx context.Context) ([]Pin, error)
	IsPinned(ctx context.Context, c cid.Cid) (bool, error)
	Close() error
}

type sqliteStore struct {
	db *db
}

// Open opens (or creates) the pin store's SQLite database at path,
// alongside the blockstore's own badger4 directory.
func Open(path string) (Store, error) {
	d, err := openDB(path, defaultDBOptions())
	if err != nil {
		return nil, err
	}
	s := &sqliteStore{db: d}
	if err := s.initSchema(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

// initSchema follows the same CREATE-TABLE-IF-NOT-EXISTS-plus-indexes
// shape as entitystore.go's initializeSchema, reduced to the single
// pins table this store needs.
func (s *sqliteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS pins (
		cid TEXT PRIMARY KEY,
		depth INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pins_depth ON pins(depth);
	`
	_, err := s.db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("pin: create schema: %w", err)
	}
	return nil
}

func (s *sqliteStore) Add(ctx context.Context, c cid.Cid, depth Depth, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("pin: marshal metadata: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO pins (cid, depth, metadata) VALUES (?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET depth = excluded.depth, metadata = excluded.metadata
	`, c.String(), depth.Int(), string(raw))
	if err != nil {
		return fmt.Errorf("pin: add %s: %w", c, err)
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, c cid.Cid) error {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM pins WHERE cid = ?`, c.String())
	if err != nil {
		return fmt.Errorf("pin: remove %s: %w", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return corerr.New(corerr.DoesNotExist, c.String())
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Pin, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT cid, depth, metadata FROM pins`)
	if err != nil {
		return nil, fmt.Errorf("pin: list: %w", err)
	}
	defer rows.Close()

	var out []Pin
	for rows.Next() {
		var (
			cidStr   string
			depth    int
			metaJSON string
		)
		if err := rows.Scan(&cidStr, &depth, &metaJSON); err != nil {
			return nil, err
		}
		c, err := cid.Decode(cidStr)
		if err != nil {
			return nil, fmt.Errorf("pin: decode stored cid %q: %w", cidStr, err)
		}
		meta := map[string]any{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("pin: decode metadata for %s: %w", cidStr, err)
		}
		out = append(out, Pin{CID: c, Depth: DepthFromInt(depth), Metadata: meta})
	}
	return out, rows.Err()
}

func (s *sqliteStore) IsPinned(ctx context.Context, c cid.Cid) (bool, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM pins WHERE cid = ?`, c.String()).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("pin: is_pinned %s: %w", c, err)
	}
	return count > 0, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
