// Package cachefirst implements a cache-first gateway in front of an
// origin server. For one designated resource path it consults a reserved
// cache partition before touching the network, stores successful origin
// responses opportunistically, and synthesizes an offline placeholder
// when the origin is unreachable. All other paths are passed through to
// the origin without caching.
package cachefirst

import (
	"io"
	"net/http"
	"net/url"
	"time"

	partition "github.com/cache-first/cache-first/pkg/partition-store"
	serializer "github.com/cache-first/cache-first/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// Partition names. These must stay stable across interceptor versions:
// Activate deletes every partition whose name is not one of these two.
const (
	// DataPartition holds the cached copy of the versioned resource.
	DataPartition = "api-data-v1"
	// StaticPartition is reserved for static assets. It is opened and
	// retained but not consulted by the request path.
	StaticPartition = "static-assets-v1"
)

// DefaultDataPath is the designated resource path handled cache-first.
const DefaultDataPath = "/api/data"

const offlineBody = `<!DOCTYPE html>
<html>
<head><title>Offline</title></head>
<body><h1>You are offline</h1><p>The cached copy is unavailable and the network is unreachable.</p></body>
</html>
`

type Config struct {
	// Storage for cache partitions.
	Store partition.Store
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Path handled with the cache-first strategy.
	// Defaults to DefaultDataPath.
	DataPath string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Interceptor struct {
	store      partition.Store
	data       partition.Partition
	static     partition.Partition
	originURL  url.URL
	dataPath   string
	log        zerolog.Logger
	httpClient http.Client
}

// New initializes the interceptor. Install and Activate still need to be
// called before it serves from cache; until then every request falls
// through to the origin.
func New(config Config) *Interceptor {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	dataPath := config.DataPath
	if dataPath == "" {
		dataPath = DefaultDataPath
	}

	return &Interceptor{
		store:     config.Store,
		originURL: config.OriginURL,
		dataPath:  dataPath,
		log:       logger,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Install opens the two reserved partitions eagerly. Open failures are
// logged and swallowed: without its partition the interceptor degenerates
// to always-miss, which only costs cache effectiveness.
func (i *Interceptor) Install() {
	data, err := i.store.Open(DataPartition)
	if err != nil {
		i.log.Error().Err(err).Str("partition", DataPartition).Msg("Could not open partition")
	} else {
		i.data = data
	}
	static, err := i.store.Open(StaticPartition)
	if err != nil {
		i.log.Error().Err(err).Str("partition", StaticPartition).Msg("Could not open partition")
	} else {
		i.static = static
	}
	i.log.Info().Msg("Partitions installed")
}

// Activate retires partitions left behind by earlier versions: every
// partition whose name is not one of the two reserved names is deleted.
// After Activate returns, the interceptor claims all traffic immediately.
// Cleanup failures are logged and swallowed.
func (i *Interceptor) Activate() {
	names, err := i.store.List()
	if err != nil {
		i.log.Error().Err(err).Msg("Could not list partitions")
		return
	}
	for _, name := range names {
		if name == DataPartition || name == StaticPartition {
			continue
		}
		if err := i.store.Delete(name); err != nil {
			i.log.Error().Err(err).Str("partition", name).Msg("Could not delete retired partition")
			continue
		}
		i.log.Info().Str("partition", name).Msg("Deleted retired partition")
	}
	i.log.Info().Msg("Interceptor activated")
}

// ServeHTTP implements the http.Handler interface.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == i.dataPath {
		i.serveCacheFirst(w, r)
		return
	}
	i.passthrough(w, r)
}

// serveCacheFirst runs the per-request strategy for the designated path:
// check the reserved partition, on a hit serve the stored response
// verbatim, on a miss fetch from the origin and store cacheable
// responses, and on a network failure serve the offline placeholder.
//
// Lookup and store are not atomic as a pair: two concurrent misses for
// the same identity may both fetch from the origin. The last write wins
// and the stored value is always a complete response, so the race costs
// an extra fetch, nothing more.
func (i *Interceptor) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	identity := partition.Identity(r)
	log := i.log.With().Str("identity", identity).Logger()
	var cacheStatus CacheStatus

	if res := i.lookup(identity, r); res != nil {
		cacheStatus.Hit()
		i.send(w, r, res, cacheStatus)
		return
	}
	if i.data == nil {
		cacheStatus.Forward(CacheStatusFwdMiss)
	} else {
		cacheStatus.Forward(CacheStatusFwdUriMiss)
	}

	res, err := i.fetch(r)
	if err != nil {
		log.Warn().Err(err).Msg("Origin unreachable, serving offline fallback")
		cacheStatus.Detail("fallback")
		i.serveFallback(w, r, cacheStatus)
		return
	}

	if res.StatusCode == http.StatusOK {
		if stored := i.storeResponse(identity, res); stored {
			cacheStatus.Stored()
		}
	}
	i.send(w, r, res, cacheStatus)
}

// lookup returns the stored response for the identity, or nil on a miss.
// Any error is treated as a miss.
func (i *Interceptor) lookup(identity string, r *http.Request) *http.Response {
	if i.data == nil {
		return nil
	}
	bts, ok, err := i.data.Lookup(identity)
	if err != nil {
		i.log.Error().Err(err).Str("identity", identity).Msg("Could not retrieve from partition")
		return nil
	}
	if !ok {
		return nil
	}
	res, err := serializer.BytesToResponse(bts, r)
	if err != nil {
		i.log.Error().Err(err).Str("identity", identity).Msg("Could not parse stored response")
		return nil
	}
	return res
}

// storeResponse writes the response into the reserved partition,
// overwriting any prior entry. The response body remains readable
// afterwards. Returns whether the response was actually stored.
func (i *Interceptor) storeResponse(identity string, res *http.Response) bool {
	if i.data == nil {
		return false
	}
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		i.log.Error().Err(err).Str("identity", identity).Msg("Could not serialize response")
		return false
	}
	if err := i.data.Put(identity, bts); err != nil {
		i.log.Error().Err(err).Str("identity", identity).Msg("Could not write to partition")
		return false
	}
	i.log.Debug().Str("identity", identity).Msg("Stored response in partition")
	return true
}

// serveFallback synthesizes the fixed offline placeholder. The network
// failure is swallowed; the caller always gets a usable document.
func (i *Interceptor) serveFallback(w http.ResponseWriter, r *http.Request, cacheStatus CacheStatus) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Status", cacheStatus.String())
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, offlineBody)
	i.logRequest(r, cacheStatus)
}

// passthrough forwards the request to the origin without any caching.
// Upstream failure surfaces as a plain 502.
func (i *Interceptor) passthrough(w http.ResponseWriter, r *http.Request) {
	var cacheStatus CacheStatus
	cacheStatus.Forward(CacheStatusFwdBypass)
	res, err := i.fetch(r)
	if err != nil {
		i.log.Error().Err(err).Msg("Error connecting to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	i.send(w, r, res, cacheStatus)
}

// fetch the resource specified in the incoming request from the origin.
func (i *Interceptor) fetch(r *http.Request) (*http.Response, error) {
	uri := i.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequest(r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")

	res, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return res, nil
}

func (i *Interceptor) send(w http.ResponseWriter, r *http.Request, res *http.Response, cacheStatus CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", cacheStatus.String())
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		i.log.Error().Err(err).Msg("Could not write response body to client")
	}
	i.logRequest(r, cacheStatus)
	i.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (i *Interceptor) logRequest(r *http.Request, cs CacheStatus) {
	isHit := 0
	if cs.status == CacheStatusHit {
		isHit = 1
	}
	i.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("status", string(cs.status)).
		Str("fwd", string(cs.fwdReason)).
		Bool("stored", cs.stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
