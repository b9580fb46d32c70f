package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
)

// SQLiteSession is a SQLite-backed record store: one table keyed by
// (entity, pk) holding encoded payloads. It trades Badger's write
// throughput for a single ordinary database file.
type SQLiteSession struct {
	db *sql.DB

	mu       sync.Mutex
	onCommit []func(ChangeSet)
}

// OpenSQLite opens (or creates) a SQLite-backed session at path.
func OpenSQLite(path string) (*SQLiteSession, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialized access: the binding layer is single-writer and the
	// driver is happiest with one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		entity  TEXT NOT NULL,
		pk      TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (entity, pk)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &SQLiteSession{db: db}, nil
}

func (s *SQLiteSession) ReadByKey(entity, key string) (map[string]any, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM records WHERE entity = ? AND pk = ?`, entity, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s[%s]: %w", entity, key, err)
	}
	return DecodeFields(payload)
}

func (s *SQLiteSession) Scan(entity string, filter query.Expr, sortSpec query.Sort) ([]livestore.Record, error) {
	rows, err := s.db.Query(
		`SELECT pk, payload FROM records WHERE entity = ? ORDER BY pk`, entity,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", entity, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]livestore.Record, 0)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entity, err)
		}
		fields, err := DecodeFields(payload)
		if err != nil {
			return nil, fmt.Errorf("scan %s[%s]: %w", entity, key, err)
		}
		if query.Matches(filter, fields) {
			records = append(records, livestore.Record{Entity: entity, Key: key, Fields: fields})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", entity, err)
	}

	sortSpec.Apply(records)
	return records, nil
}

func (s *SQLiteSession) OnCommit(fn func(ChangeSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

func (s *SQLiteSession) Close() error {
	return s.db.Close()
}

func (s *SQLiteSession) BeginTx() (Tx, error) {
	return &sqliteTx{session: s}, nil
}

type sqliteTx struct {
	session *SQLiteSession
	ops     []stagedOp
	done    bool
}

func (t *sqliteTx) Write(entity, key string, fields map[string]any) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key, fields: livestore.CloneFields(fields)})
	return nil
}

func (t *sqliteTx) Delete(entity, key string) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key})
	return nil
}

func (t *sqliteTx) Commit() (retErr error) {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.done = true

	dbTx, err := t.session.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = dbTx.Rollback()
		}
	}()

	cs := ChangeSet{}
	for _, op := range t.ops {
		var before map[string]any
		var payload []byte
		err := dbTx.QueryRow(
			`SELECT payload FROM records WHERE entity = ? AND pk = ?`, op.entity, op.key,
		).Scan(&payload)
		switch err {
		case nil:
			before, err = DecodeFields(payload)
			if err != nil {
				return fmt.Errorf("decode %s[%s]: %w", op.entity, op.key, err)
			}
		case sql.ErrNoRows:
			// record does not exist yet
		default:
			return fmt.Errorf("read %s[%s]: %w", op.entity, op.key, err)
		}

		if op.fields == nil {
			if before == nil {
				continue
			}
			if _, err := dbTx.Exec(
				`DELETE FROM records WHERE entity = ? AND pk = ?`, op.entity, op.key,
			); err != nil {
				return fmt.Errorf("delete %s[%s]: %w", op.entity, op.key, err)
			}
			cs.Changes = append(cs.Changes, Change{
				Entity: op.entity, Action: ActionDelete, Key: op.key, Before: before,
			})
			continue
		}

		encoded, err := EncodeFields(op.fields)
		if err != nil {
			return fmt.Errorf("encode %s[%s]: %w", op.entity, op.key, err)
		}
		if _, err := dbTx.Exec(
			`INSERT INTO records (entity, pk, payload) VALUES (?, ?, ?)
			 ON CONFLICT (entity, pk) DO UPDATE SET payload = excluded.payload`,
			op.entity, op.key, encoded,
		); err != nil {
			return fmt.Errorf("write %s[%s]: %w", op.entity, op.key, err)
		}
		change := Change{Entity: op.entity, Action: ActionCreate, Key: op.key, After: op.fields}
		if before != nil {
			change.Action = ActionUpdate
			change.Before = before
		}
		cs.Changes = append(cs.Changes, change)
	}

	if err := dbTx.Commit(); err != nil {
		return &livestore.WriteConflictError{Err: err}
	}

	if len(cs.Changes) > 0 {
		t.session.mu.Lock()
		callbacks := append(([]func(ChangeSet))(nil), t.session.onCommit...)
		t.session.mu.Unlock()
		for _, fn := range callbacks {
			fn(cs)
		}
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}
