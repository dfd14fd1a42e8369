// Package ids mints the message ids stamped on outbound messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out ULIDs that sort in creation order, even when several
// are minted within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Next returns the next id as its 26-character string form.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		// monotonic entropy exhausted for this millisecond
		return ulid.Make().String()
	}
	return id.String()
}

var messageIDs = NewGenerator(nil)

// NewMessageID returns an id for an outbound message.
func NewMessageID() string { return messageIDs.Next() }
