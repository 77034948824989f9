package origin

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/go-chi/chi/v5"
)

// Item is the payload of the caching-pattern routes.
type Item struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Value       float64   `json:"value"`
	ItemID      string    `json:"item_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ItemStore persists items in SQLite. It plays the role of the primary
// data store behind the item cache; Latency can be set to make the
// write-behind and cache-aside timings observable in the demo.
type ItemStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	// Latency is added to every store operation.
	Latency time.Duration
}

// NewItemStore creates a new store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewItemStore(filename string) (*ItemStore, error) {
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
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		value REAL,
		timestamp INTEGER
	)`); err != nil {
		return nil, err
	}
	return &ItemStore{db: db, writeMutex: &sync.Mutex{}}, nil
}

func (s *ItemStore) Ping() error {
	return s.db.Ping()
}

func (s *ItemStore) Get(id string) (Item, bool, error) {
	time.Sleep(s.Latency)
	var item Item
	var ts int64
	err := s.db.QueryRow(
		"SELECT id, name, description, value, timestamp FROM items WHERE id = ?", id,
	).Scan(&item.ItemID, &item.Name, &item.Description, &item.Value, &ts)
	if err == sql.ErrNoRows {
		return item, false, nil
	}
	if err != nil {
		return item, false, err
	}
	item.Timestamp = time.Unix(0, ts).UTC()
	return item, true, nil
}

func (s *ItemStore) All() ([]Item, error) {
	time.Sleep(s.Latency)
	rows, err := s.db.Query("SELECT id, name, description, value, timestamp FROM items ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		var ts int64
		if err := rows.Scan(&item.ItemID, &item.Name, &item.Description, &item.Value, &ts); err != nil {
			return items, err
		}
		item.Timestamp = time.Unix(0, ts).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *ItemStore) Put(item Item) error {
	time.Sleep(s.Latency)
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO items (id, name, description, value, timestamp) VALUES (?, ?, ?, ?, ?)",
		item.ItemID, item.Name, item.Description, item.Value, item.Timestamp.UnixNano())
	return err
}

func (s *ItemStore) Delete(id string) error {
	time.Sleep(s.Latency)
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM items WHERE id = ?", id)
	return err
}

type itemCacheEntry struct {
	expires time.Time
	item    Item
}

// ItemCache is an in-memory item cache with a fixed time-to-live.
type ItemCache struct {
	mutex *sync.RWMutex
	ttl   time.Duration
	db    map[string]itemCacheEntry
}

func NewItemCache(ttl time.Duration) *ItemCache {
	return &ItemCache{
		mutex: &sync.RWMutex{},
		ttl:   ttl,
		db:    make(map[string]itemCacheEntry),
	}
}

func (c *ItemCache) Get(id string) (Item, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.db[id]
	if !ok || time.Now().After(entry.expires) {
		return Item{}, false
	}
	return entry.item, true
}

func (c *ItemCache) Put(item Item) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.db[item.ItemID] = itemCacheEntry{
		expires: time.Now().Add(c.ttl),
		item:    item,
	}
}

// Invalidate removes the entry and reports whether it was present.
func (c *ItemCache) Invalidate(id string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.db[id]
	delete(c.db, id)
	return ok
}

// itemInput is the caller-supplied part of an item.
type itemInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
}

func (s *Server) readItem(w http.ResponseWriter, r *http.Request) (Item, bool) {
	var in itemInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item body"})
		return Item{}, false
	}
	return Item{
		Name:        in.Name,
		Description: in.Description,
		Value:       in.Value,
		ItemID:      chi.URLParam(r, "id"),
		Timestamp:   time.Now().UTC(),
	}, true
}

// handleWriteThrough writes to the database and the cache before
// acknowledging. Both copies are current when the response goes out, at
// the cost of waiting for the slower write.
func (s *Server) handleWriteThrough(w http.ResponseWriter, r *http.Request) {
	item, ok := s.readItem(w, r)
	if !ok {
		return
	}
	if err := s.items.Put(item); err != nil {
		s.log.Error().Err(err).Str("item", item.ItemID).Msg("Could not write item to db")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db write failed"})
		return
	}
	s.itemCache.Put(item)
	s.log.Debug().Str("item", item.ItemID).Msg("Item written through")
	respondJSON(w, http.StatusOK, item)
}

// handleWriteBehind acknowledges as soon as the cache holds the item and
// persists to the database in the background. Lower write latency, with
// the usual risk: a crash before the deferred write loses the item.
func (s *Server) handleWriteBehind(w http.ResponseWriter, r *http.Request) {
	item, ok := s.readItem(w, r)
	if !ok {
		return
	}
	s.itemCache.Put(item)
	go func() {
		if err := s.items.Put(item); err != nil {
			s.log.Error().Err(err).Str("item", item.ItemID).Msg("Deferred db write failed")
		}
	}()
	s.log.Debug().Str("item", item.ItemID).Msg("Item written behind")
	respondJSON(w, http.StatusOK, item)
}

// handleReadThrough serves reads where the cache layer owns the database
// fetch: on a miss the cache populates itself from the store and answers.
// The mechanics are the same as cache-aside; the two routes exist so both
// patterns are observable side by side.
func (s *Server) handleReadThrough(w http.ResponseWriter, r *http.Request) {
	s.serveItemViaCache(w, r)
}

// handleCacheAside serves reads where the application manages the cache:
// check the cache, fall back to the database, populate on the way out.
func (s *Server) handleCacheAside(w http.ResponseWriter, r *http.Request) {
	s.serveItemViaCache(w, r)
}

func (s *Server) serveItemViaCache(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if item, ok := s.itemCache.Get(id); ok {
		s.log.Debug().Str("item", id).Msg("Item cache hit")
		respondJSON(w, http.StatusOK, item)
		return
	}
	item, ok, err := s.items.Get(id)
	if err != nil {
		s.log.Error().Err(err).Str("item", id).Msg("Could not read item from db")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db read failed"})
		return
	}
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	s.itemCache.Put(item)
	s.log.Debug().Str("item", id).Msg("Item cache populated")
	respondJSON(w, http.StatusOK, item)
}

// handleDBItem reads straight from the database, bypassing the cache.
// An inspection route for watching the patterns work.
func (s *Server) handleDBItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok, err := s.items.Get(id)
	if err != nil {
		s.log.Error().Err(err).Str("item", id).Msg("Could not read item from db")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db read failed"})
		return
	}
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleDBAll lists every item in the database, bypassing the cache.
func (s *Server) handleDBAll(w http.ResponseWriter, r *http.Request) {
	items, err := s.items.All()
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list items")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db read failed"})
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.itemCache.Invalidate(id) {
		s.log.Debug().Str("item", id).Msg("Item cache invalidated")
		respondJSON(w, http.StatusOK, map[string]string{"message": "cache invalidated"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "item was not in cache"})
}

// handleDeleteItem removes the item from the database and then
// invalidates the cache, keeping the two consistent.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.items.Delete(id); err != nil {
		s.log.Error().Err(err).Str("item", id).Msg("Could not delete item from db")
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "db delete failed"})
		return
	}
	s.itemCache.Invalidate(id)
	respondJSON(w, http.StatusOK, map[string]string{"message": "item deleted"})
}
