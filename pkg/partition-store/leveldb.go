package partition

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout within the database:
//
//	n:<partition>              partition name marker
//	e:<partition>\x00<identity>  stored entry
//
// The NUL separator is safe because partition names are code-chosen
// constants and never contain NUL.
const (
	levelNamePrefix  = "n:"
	levelEntryPrefix = "e:"
	levelSeparator   = "\x00"
)

// LevelStore is a partition store persisted in a LevelDB database.
type LevelStore struct {
	db *leveldb.DB
}

func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}

func (l *LevelStore) Open(name string) (Partition, error) {
	if err := l.db.Put([]byte(levelNamePrefix+name), []byte{}, nil); err != nil {
		return nil, err
	}
	return &levelPartition{store: l, name: name}, nil
}

func (l *LevelStore) List() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(levelNamePrefix)), nil)
	defer it.Release()
	names := make([]string, 0)
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(levelNamePrefix))))
	}
	return names, it.Error()
}

func (l *LevelStore) Delete(name string) error {
	batch := new(leveldb.Batch)
	prefix := []byte(levelEntryPrefix + name + levelSeparator)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		batch.Delete(key)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete([]byte(levelNamePrefix + name))
	return l.db.Write(batch, nil)
}

type levelPartition struct {
	store *LevelStore
	name  string
}

func (p *levelPartition) entryKey(identity string) []byte {
	return []byte(levelEntryPrefix + p.name + levelSeparator + identity)
}

func (p *levelPartition) Lookup(identity string) ([]byte, bool, error) {
	b, err := p.store.db.Get(p.entryKey(identity), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *levelPartition) Put(identity string, bytes []byte) error {
	return p.store.db.Put(p.entryKey(identity), bytes, nil)
}

func (p *levelPartition) Purge(identity string) error {
	return p.store.db.Delete(p.entryKey(identity), nil)
}
