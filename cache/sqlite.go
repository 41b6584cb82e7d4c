package cache

import (
	"database/sql"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a Store backed by a SQLite database, so buckets survive
// worker restarts. Bucket names live in their own table so that an empty
// bucket is still listed by Names.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the store in the given
// database file. Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(
		"CREATE TABLE IF NOT EXISTS bucket (name TEXT PRIMARY KEY)"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(
		"CREATE TABLE IF NOT EXISTS entry (bucket TEXT, key TEXT, bytes BLOB, PRIMARY KEY (bucket, key))"); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Open(name string) (Bucket, error) {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO bucket (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *SQLiteStore) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM bucket")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Delete(name string) error {
	if _, err := s.db.Exec("DELETE FROM entry WHERE bucket = ?", name); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM bucket WHERE name = ?", name)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (b *sqliteBucket) Match(key string) ([]byte, bool, error) {
	var bytes []byte
	err := b.db.QueryRow(
		"SELECT bytes FROM entry WHERE bucket = ? AND key = ?", b.name, key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (b *sqliteBucket) Put(key string, bytes []byte) error {
	_, err := b.db.Exec(
		"INSERT OR REPLACE INTO entry (bucket, key, bytes) VALUES (?, ?, ?)",
		b.name, key, bytes)
	return err
}
