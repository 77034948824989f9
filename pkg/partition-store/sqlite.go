package partition

import (
	"database/sql"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a partition store backed by a single SQLite database.
// All partitions share one table; the partition name is part of the
// primary key. Partition names are tracked separately so that opened but
// empty partitions are listed.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore creates a new store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	inMemory := filename == ""
	if inMemory {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if inMemory {
		// every pooled connection would otherwise get its own memory db
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		partition TEXT,
		identity TEXT,
		bytes BLOB,
		PRIMARY KEY (partition, identity)
	)`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS partitions (
		name TEXT PRIMARY KEY
	)`); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStore) Open(name string) (Partition, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO partitions (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	return &sqlitePartition{store: s, name: name}, nil
}

func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Delete(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE partition = ?", name); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM partitions WHERE name = ?", name)
	return err
}

type sqlitePartition struct {
	store *SQLiteStore
	name  string
}

func (p *sqlitePartition) Lookup(identity string) ([]byte, bool, error) {
	var bytes []byte
	err := p.store.db.QueryRow(
		"SELECT bytes FROM entries WHERE partition = ? AND identity = ?",
		p.name, identity,
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (p *sqlitePartition) Put(identity string, bytes []byte) error {
	p.store.writeMutex.Lock()
	defer p.store.writeMutex.Unlock()
	_, err := p.store.db.Exec(
		"INSERT OR REPLACE INTO entries (partition, identity, bytes) VALUES (?, ?, ?)",
		p.name, identity, bytes)
	return err
}

func (p *sqlitePartition) Purge(identity string) error {
	p.store.writeMutex.Lock()
	defer p.store.writeMutex.Unlock()
	_, err := p.store.db.Exec(
		"DELETE FROM entries WHERE partition = ? AND identity = ?",
		p.name, identity)
	return err
}
