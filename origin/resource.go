package origin

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Churn decides, on every read, whether the resource should be regenerated
// before the conditional check runs. It stands in for upstream content
// change and is independent of caller behavior.
type Churn interface {
	Mutate() bool
}

// ChurnFunc adapts a plain function to the Churn interface.
type ChurnFunc func() bool

func (f ChurnFunc) Mutate() bool { return f() }

// ChurnNever pins the resource: it is only ever regenerated explicitly.
// Use it to make tests deterministic.
var ChurnNever = ChurnFunc(func() bool { return false })

// ProbabilisticChurn regenerates the resource with the given probability
// on each read. The demo default is 0.2.
func ProbabilisticChurn(p float64) Churn {
	return ChurnFunc(func() bool { return rand.Float64() < p })
}

// DataPayload is the body of the versioned resource.
type DataPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var messageVariants = []string{
	"Hello from the origin server!",
	"Fresh content, hot off the press.",
	"This message changed since you last looked.",
	"Same endpoint, new body.",
}

// Resource is the single versioned resource held by the endpoint.
// Its entity tag is derived from the body, so the tag changes exactly
// when the body changes. State is process-lifetime only.
type Resource struct {
	mutex   sync.Mutex
	churn   Churn
	payload DataPayload
	etag    string
	version int
}

func NewResource(churn Churn) *Resource {
	if churn == nil {
		churn = ProbabilisticChurn(0.2)
	}
	r := &Resource{churn: churn}
	r.regenerate()
	return r
}

// Snapshot applies the churn step and returns the current body and entity
// tag. The mutation is visible to all subsequent callers.
func (r *Resource) Snapshot() (DataPayload, string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.churn.Mutate() {
		r.regenerate()
	}
	return r.payload, r.etag
}

// Bump forces a new resource version regardless of the churn decider.
func (r *Resource) Bump() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.regenerate()
}

// regenerate must be called with the mutex held (or from the constructor).
func (r *Resource) regenerate() {
	r.version++
	r.payload = DataPayload{
		Message:   messageVariants[r.version%len(messageVariants)],
		Timestamp: time.Now().UTC(),
	}
	r.etag = entityTag(r.payload)
}

// entityTag returns an opaque, quoted token for the given body.
func entityTag(payload DataPayload) string {
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%q", fmt.Sprintf("%x", sum[:8]))
}
