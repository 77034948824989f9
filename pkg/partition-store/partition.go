package partition

import (
	"fmt"
	"net/http"
)

// Store is a collection of named partitions.
// Each partition is an isolated mapping from request identity to a stored
// response ([]byte values in HTTP/1.1 wire format).
//
// Implementations must be thread-safe!
type Store interface {
	// Open returns the partition with the given name, creating it if it
	// does not exist yet. Opening an existing partition is a no-op.
	Open(name string) (Partition, error)
	// List returns the names of all partitions in the store,
	// including empty ones.
	List() ([]string, error)
	// Delete removes the named partition together with all of its entries.
	// Deleting a partition that does not exist is not an error.
	Delete(name string) error
}

// Partition stores response bytes keyed by request identity.
// A partition holds at most one entry per identity: Put overwrites.
//
// Note that Lookup followed by Put is not atomic as a pair. Two concurrent
// misses for the same identity may both fetch and both store; the last
// write wins and the stored value is always a complete response.
type Partition interface {
	// Lookup returns the stored bytes for the given identity, if any.
	// The boolean indicates whether an entry was found.
	Lookup(identity string) ([]byte, bool, error)
	// Put stores the given bytes under the given identity,
	// overwriting any previous entry.
	Put(identity string, bytes []byte) error
	// Purge removes the entry for the given identity.
	Purge(identity string) error
}

// Identity returns the request identity used as the lookup key within a
// partition. Identity is method plus URL; for the cached resource this is
// always a GET to a fixed path.
func Identity(r *http.Request) string {
	return fmt.Sprintf("%s %s", r.Method, r.URL.RequestURI())
}
