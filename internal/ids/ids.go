// Package ids mints row identifiers for the access tables. Nothing here
// is a secret; session and recovery tokens are minted from crypto/rand
// in the access package instead.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// generator serializes a monotonic ULID source so ids created within the
// same millisecond still sort in creation order.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var gen = generator{
	entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
}

// New returns a lexicographically sortable row identifier.
func New() string {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), gen.entropy).String()
}
