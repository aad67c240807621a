package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by SQLite via database/sql, using the pure
// Go modernc.org/sqlite driver (no cgo).
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS lists (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	last_updated INTEGER NOT NULL,
	vector_clock TEXT NOT NULL,
	name_ts      INTEGER NOT NULL DEFAULT 0,
	name_writer  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_lists_last_updated ON lists(last_updated);

CREATE TABLE IF NOT EXISTS items (
	id                TEXT PRIMARY KEY,
	list_id           TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	quantity          INTEGER NOT NULL,
	acquired          INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	last_updated      INTEGER NOT NULL,
	vector_clock      TEXT NOT NULL,
	name_ts           INTEGER NOT NULL DEFAULT 0,
	name_writer       TEXT NOT NULL DEFAULT '',
	quantity_positive TEXT NOT NULL DEFAULT '{}',
	quantity_negative TEXT NOT NULL DEFAULT '{}',
	acquired_positive TEXT NOT NULL DEFAULT '{}',
	acquired_negative TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_items_list_id ON items(list_id);
CREATE INDEX IF NOT EXISTS idx_items_last_updated ON items(last_updated);

CREATE TABLE IF NOT EXISTS pending_ops (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL,
	data      BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	synced    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pending_ops_timestamp ON pending_ops(timestamp);

CREATE TABLE IF NOT EXISTS hints (
	id             TEXT PRIMARY KEY,
	target_node_id TEXT NOT NULL,
	operation      TEXT NOT NULL,
	queued_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hints_target ON hints(target_node_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens or creates a SQLite database at path and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeClock(vc clock.VectorClock) (string, error) {
	b, err := json.Marshal(vc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeClock(s string) clock.VectorClock {
	vc := clock.NewVectorClock()
	_ = json.Unmarshal([]byte(s), &vc)
	return vc
}

func encodeCounter(m map[string]int64) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCounter(s string) map[string]int64 {
	m := make(map[string]int64)
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func (s *SQLiteStore) SaveList(list crdt.ListSnapshot) error {
	vc, err := encodeClock(list.VectorClock)
	if err != nil {
		return fmt.Errorf("encode list vector clock: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO lists (id, name, created_at, last_updated, vector_clock, name_ts, name_writer)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, last_updated=excluded.last_updated,
			vector_clock=excluded.vector_clock, name_ts=excluded.name_ts,
			name_writer=excluded.name_writer
	`, list.ID, list.Name, list.CreatedAt, list.LastUpdated, vc, list.NameTimestamp, list.NameWriter)
	if err != nil {
		return fmt.Errorf("save list %s: %w", list.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetList(id string) (crdt.ListSnapshot, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, last_updated, vector_clock, name_ts, name_writer FROM lists WHERE id = ?`, id)
	var l crdt.ListSnapshot
	var vcText string
	if err := row.Scan(&l.ID, &l.Name, &l.CreatedAt, &l.LastUpdated, &vcText, &l.NameTimestamp, &l.NameWriter); err != nil {
		if err == sql.ErrNoRows {
			return crdt.ListSnapshot{}, false, nil
		}
		return crdt.ListSnapshot{}, false, fmt.Errorf("get list %s: %w", id, err)
	}
	l.VectorClock = decodeClock(vcText)
	return l, true, nil
}

func (s *SQLiteStore) ListLists() ([]crdt.ListSnapshot, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at, last_updated, vector_clock, name_ts, name_writer FROM lists`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []crdt.ListSnapshot
	for rows.Next() {
		var l crdt.ListSnapshot
		var vcText string
		if err := rows.Scan(&l.ID, &l.Name, &l.CreatedAt, &l.LastUpdated, &vcText, &l.NameTimestamp, &l.NameWriter); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.VectorClock = decodeClock(vcText)
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteList removes the list row and every item row with that listId in
// a single transaction, per §4.5's atomic-cascade-delete requirement.
func (s *SQLiteStore) DeleteList(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete-list tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items WHERE list_id = ?`, id); err != nil {
		return fmt.Errorf("cascade delete items for list %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM lists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete list %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveItem(item crdt.ItemSnapshot) error {
	vc, err := encodeClock(item.VectorClock)
	if err != nil {
		return fmt.Errorf("encode item vector clock: %w", err)
	}
	qp, _ := encodeCounter(item.QuantityPositive)
	qn, _ := encodeCounter(item.QuantityNegative)
	ap, _ := encodeCounter(item.AcquiredPositive)
	an, _ := encodeCounter(item.AcquiredNegative)

	_, err = s.db.Exec(`
		INSERT INTO items (
			id, list_id, name, quantity, acquired, created_at, last_updated,
			vector_clock, name_ts, name_writer,
			quantity_positive, quantity_negative, acquired_positive, acquired_negative
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, quantity=excluded.quantity, acquired=excluded.acquired,
			last_updated=excluded.last_updated, vector_clock=excluded.vector_clock,
			name_ts=excluded.name_ts, name_writer=excluded.name_writer,
			quantity_positive=excluded.quantity_positive, quantity_negative=excluded.quantity_negative,
			acquired_positive=excluded.acquired_positive, acquired_negative=excluded.acquired_negative
	`, item.ID, item.ListID, item.Name, item.Quantity, item.Acquired, item.CreatedAt, item.LastUpdated,
		vc, item.NameTimestamp, item.NameWriter, qp, qn, ap, an)
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return nil
}

func scanItem(row interface {
	Scan(dest ...any) error
}) (crdt.ItemSnapshot, error) {
	var it crdt.ItemSnapshot
	var vcText, qp, qn, ap, an string
	err := row.Scan(&it.ID, &it.ListID, &it.Name, &it.Quantity, &it.Acquired, &it.CreatedAt, &it.LastUpdated,
		&vcText, &it.NameTimestamp, &it.NameWriter, &qp, &qn, &ap, &an)
	if err != nil {
		return crdt.ItemSnapshot{}, err
	}
	it.VectorClock = decodeClock(vcText)
	it.QuantityPositive = decodeCounter(qp)
	it.QuantityNegative = decodeCounter(qn)
	it.AcquiredPositive = decodeCounter(ap)
	it.AcquiredNegative = decodeCounter(an)
	return it, nil
}

const itemColumns = `id, list_id, name, quantity, acquired, created_at, last_updated,
	vector_clock, name_ts, name_writer, quantity_positive, quantity_negative, acquired_positive, acquired_negative`

func (s *SQLiteStore) GetItem(id string) (crdt.ItemSnapshot, bool, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return crdt.ItemSnapshot{}, false, nil
		}
		return crdt.ItemSnapshot{}, false, fmt.Errorf("get item %s: %w", id, err)
	}
	return it, true, nil
}

func (s *SQLiteStore) ListItems() ([]crdt.ItemSnapshot, error) {
	rows, err := s.db.Query(`SELECT ` + itemColumns + ` FROM items`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []crdt.ItemSnapshot
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListItemsByList(listID string) ([]crdt.ItemSnapshot, error) {
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM items WHERE list_id = ?`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items for list %s: %w", listID, err)
	}
	defer rows.Close()
	var out []crdt.ItemSnapshot
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteItem(id string) error {
	_, err := s.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SavePendingOp(op model.PendingOp) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_ops (id, type, data, timestamp, synced) VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, op.ID, string(op.Type), op.Data, op.Timestamp)
	if err != nil {
		return fmt.Errorf("save pending op %s: %w", op.ID, err)
	}
	return nil
}

// PendingOps reads every unsynced operation as a single consistent
// snapshot within a transaction, ordered by ascending timestamp.
func (s *SQLiteStore) PendingOps() ([]model.PendingOp, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin pending-ops snapshot tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, type, data, timestamp, synced FROM pending_ops WHERE synced = 0 ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending ops: %w", err)
	}
	defer rows.Close()

	var out []model.PendingOp
	for rows.Next() {
		var op model.PendingOp
		var opType string
		var synced int
		if err := rows.Scan(&op.ID, &opType, &op.Data, &op.Timestamp, &synced); err != nil {
			return nil, fmt.Errorf("scan pending op: %w", err)
		}
		op.Type = model.OpType(opType)
		op.Synced = synced != 0
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *SQLiteStore) MarkSynced(id string) error {
	_, err := s.db.Exec(`UPDATE pending_ops SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark pending op %s synced: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ClearSynced() error {
	_, err := s.db.Exec(`DELETE FROM pending_ops WHERE synced = 1`)
	if err != nil {
		return fmt.Errorf("clear synced pending ops: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveHint(h model.Hint) error {
	op, err := json.Marshal(h.Operation)
	if err != nil {
		return fmt.Errorf("encode hint operation: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO hints (id, target_node_id, operation, queued_at) VALUES (?, ?, ?, ?)
	`, h.ID, h.TargetNodeID, string(op), h.QueuedAt)
	if err != nil {
		return fmt.Errorf("save hint %s: %w", h.ID, err)
	}
	return nil
}

func (s *SQLiteStore) HintsFor(targetNodeID string) ([]model.Hint, error) {
	rows, err := s.db.Query(`SELECT id, target_node_id, operation, queued_at FROM hints WHERE target_node_id = ? ORDER BY queued_at ASC`, targetNodeID)
	if err != nil {
		return nil, fmt.Errorf("query hints for %s: %w", targetNodeID, err)
	}
	defer rows.Close()

	var out []model.Hint
	for rows.Next() {
		var h model.Hint
		var opText string
		if err := rows.Scan(&h.ID, &h.TargetNodeID, &opText, &h.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan hint: %w", err)
		}
		if err := json.Unmarshal([]byte(opText), &h.Operation); err != nil {
			return nil, fmt.Errorf("decode hint operation: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteHint(id string) error {
	_, err := s.db.Exec(`DELETE FROM hints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete hint %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetMeta(key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
