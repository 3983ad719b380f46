// Package idgen generates sortable identifiers for jobs.
package idgen

import (
	crand "crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces unique identifiers.
type Generator interface {
	NewID(t time.Time) string
}

// ULIDGenerator produces lower-case ULIDs that sort by creation time. IDs
// created within the same millisecond are monotonic. Safe for concurrent use.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ Generator = (*ULIDGenerator)(nil)

// NewULIDGenerator returns a generator backed by crypto/rand.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(crand.Reader, 0)}
}

// NewID returns a ULID for t.
func (g *ULIDGenerator) NewID(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), g.entropy).String())
}
