// Package origin implements the demo origin server: a single versioned
// resource served with ETag revalidation, a long-lived immutable static
// asset, and a set of server-side caching-pattern routes over an item
// store.
package origin

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

//go:embed logo.png
var logoPNG []byte

const (
	// Freshness policy for the versioned resource.
	dataCacheControl = "public, max-age=10"
	// Freshness policy for the static asset. The asset never changes, so
	// it is marked immutable and clients skip revalidation entirely.
	logoCacheControl = "public, max-age=3600, immutable"
)

type Config struct {
	// Churn decider for the versioned resource.
	// Defaults to the probabilistic one (p=0.2) if nil.
	Churn Churn
	// Items is the backing store for the caching-pattern routes.
	// A new in-memory store is opened if nil.
	Items *ItemStore
	// Time-to-live for item cache entries. Defaults to 30 seconds.
	ItemTTL time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Server struct {
	resource  *Resource
	items     *ItemStore
	itemCache *ItemCache
	log       zerolog.Logger
	router    chi.Router
}

func NewServer(config Config) (*Server, error) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	if config.Logger != nil {
		logger = *config.Logger
	}
	items := config.Items
	if items == nil {
		var err error
		items, err = NewItemStore("")
		if err != nil {
			return nil, err
		}
	}
	ttl := config.ItemTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	s := &Server{
		resource:  NewResource(config.Churn),
		items:     items,
		itemCache: NewItemCache(ttl),
		log:       logger.With().Str("component", "origin").Logger(),
	}

	r := chi.NewRouter()
	r.Get("/api/data", s.handleData)
	r.Get("/cached-logo.png", s.handleLogo)
	r.Post("/items/write-through/{id}", s.handleWriteThrough)
	r.Post("/items/write-behind/{id}", s.handleWriteBehind)
	r.Get("/items/read-through/{id}", s.handleReadThrough)
	r.Get("/items/cache-aside/{id}", s.handleCacheAside)
	r.Get("/items/db/{id}", s.handleDBItem)
	r.Get("/items/db", s.handleDBAll)
	r.Delete("/items/cache/{id}", s.handleInvalidate)
	r.Delete("/items/{id}", s.handleDeleteItem)
	r.Get("/healthz", s.handleHealth)
	s.router = r

	return s, nil
}

// Handler returns the origin's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Resource exposes the versioned resource, mainly so tests and the demo
// binary can force version bumps.
func (s *Server) Resource() *Resource {
	return s.resource
}

// handleData answers the conditional GET for the versioned resource.
// The churn step runs first; the caller-presented tag is then compared
// against the current one. A match means the caller's copy is current and
// an empty 304 suffices; anything else gets the full body, the freshness
// policy, and the current tag.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	payload, etag := s.resource.Snapshot()

	if presented := presentedTag(r); presented != "" && presented == etag {
		s.log.Debug().Str("etag", etag).Msg("Presented tag is current, not modified")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	s.log.Debug().Str("etag", etag).Msg("Sending full resource")
	w.Header().Set("Cache-Control", dataCacheControl)
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Could not write resource body")
	}
}

// presentedTag extracts the caller-presented entity tag.
// Malformed or wildcard values are treated as absent rather than faulted.
func presentedTag(r *http.Request) string {
	tag := strings.TrimSpace(r.Header.Get("If-None-Match"))
	if tag == "" || tag == "*" {
		return ""
	}
	// strip a weak-validator prefix; comparison here is byte equality
	tag = strings.TrimPrefix(tag, "W/")
	if !strings.HasPrefix(tag, `"`) || !strings.HasSuffix(tag, `"`) || len(tag) < 2 {
		return ""
	}
	return tag
}

func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", logoCacheControl)
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(logoPNG); err != nil {
		s.log.Error().Err(err).Msg("Could not write asset body")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.items.Ping(); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error", "db": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "db": true,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
