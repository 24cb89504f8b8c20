package store

import (
	"context"
	"database/sql"

	"github.com/iov-one/torasuri/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps all entries in a single sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ KVStore = (*SQLiteStore)(nil)

// OpenSQLite opens the sqlite database at path and prepares the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	// sqlite allows a single writer, serialize access through one connection
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

// NewSQLiteStore uses an already open database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID;`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	return nil
}

// Get returns the value stored under the key or nil.
func (s *SQLiteStore) Get(key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

// Has returns true if the key exists.
func (s *SQLiteStore) Has(key []byte) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM kv WHERE k = ?`, key).Scan(&n); err != nil {
		return false, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	return n > 0, nil
}

// Set writes the value under the key.
func (s *SQLiteStore) Set(key, value []byte) error {
	return sqlSet(s.db, key, value)
}

// Delete removes the key.
func (s *SQLiteStore) Delete(key []byte) error {
	return sqlDelete(s.db, key)
}

// Iterator returns entries in [start, end) in ascending order.
func (s *SQLiteStore) Iterator(start, end []byte) (Iterator, error) {
	return s.scan(start, end, "ASC")
}

// ReverseIterator returns entries in [start, end) in descending order.
func (s *SQLiteStore) ReverseIterator(start, end []byte) (Iterator, error) {
	return s.scan(start, end, "DESC")
}

func (s *SQLiteStore) scan(start, end []byte, order string) (Iterator, error) {
	query := `SELECT k, v FROM kv WHERE 1 = 1`
	var args []interface{}
	if start != nil {
		query += ` AND k >= ?`
		args = append(args, start)
	}
	if end != nil {
		query += ` AND k < ?`
		args = append(args, end)
	}
	query += ` ORDER BY k ` + order

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	defer rows.Close()

	var data []Model
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, err.Error())
		}
		data = append(data, Pair(k, v))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	return newSliceIterator(data), nil
}

// NewBatch returns a batch written in a single transaction.
func (s *SQLiteStore) NewBatch() Batch {
	return &sqlBatch{db: s.db}
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func sqlSet(db execer, key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	return nil
}

func sqlDelete(db execer, key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	if _, err := db.Exec(`DELETE FROM kv WHERE k = ?`, key); err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	return nil
}

type sqlBatch struct {
	db  *sql.DB
	ops []batchOp
}

func (b *sqlBatch) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (b *sqlBatch) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, batchOp{delete: true, key: copyBytes(key)})
	return nil
}

func (b *sqlBatch) Write() error {
	tx, err := b.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	for _, op := range b.ops {
		if op.delete {
			err = sqlDelete(tx, op.key)
		} else {
			err = sqlSet(tx, op.key, op.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	b.ops = nil
	return nil
}
