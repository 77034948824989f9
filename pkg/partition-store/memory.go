package partition

import "sync"

// MemStore is an in-memory partition store.
// It is the default provider and the one to use in tests.
type MemStore struct {
	mutex      *sync.RWMutex
	partitions map[string]map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		mutex:      &sync.RWMutex{},
		partitions: make(map[string]map[string][]byte),
	}
}

func (m *MemStore) Open(name string) (Partition, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.partitions[name]; !ok {
		m.partitions[name] = make(map[string][]byte)
	}
	return &memPartition{store: m, name: name}, nil
}

func (m *MemStore) List() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemStore) Delete(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.partitions, name)
	return nil
}

type memPartition struct {
	store *MemStore
	name  string
}

func (p *memPartition) Lookup(identity string) ([]byte, bool, error) {
	p.store.mutex.RLock()
	defer p.store.mutex.RUnlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[identity]
	return bytes, ok, nil
}

func (p *memPartition) Put(identity string, bytes []byte) error {
	p.store.mutex.Lock()
	defer p.store.mutex.Unlock()
	entries, ok := p.store.partitions[p.name]
	if !ok {
		// partition was deleted after open, recreate it
		entries = make(map[string][]byte)
		p.store.partitions[p.name] = entries
	}
	entries[identity] = bytes
	return nil
}

func (p *memPartition) Purge(identity string) error {
	p.store.mutex.Lock()
	defer p.store.mutex.Unlock()
	if entries, ok := p.store.partitions[p.name]; ok {
		delete(entries, identity)
	}
	return nil
}
