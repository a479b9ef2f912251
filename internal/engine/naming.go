package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ChannelNamer produces the unique suffix of a realtime channel name.
// Implemented by UUIDv7Namer (production) and FixedNamer (tests).
type ChannelNamer interface {
	Generate() string
}

// ChannelName is "<uid>-<suffix>". A fresh suffix per mount keeps two
// consumers of the same uid from colliding.
func ChannelName(uid string, namer ChannelNamer) string {
	return uid + "-" + namer.Generate()
}

// UUIDv7Namer generates time-sortable UUIDv7 suffixes, which keeps channel
// names ordered by mount time in logs.
//
// Thread-safety: UUIDv7Namer is stateless and safe for concurrent use.
type UUIDv7Namer struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Namer) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedNamer returns predetermined suffixes for deterministic tests.
type FixedNamer struct {
	mu    sync.Mutex
	names []string
	idx   int
}

// NewFixedNamer creates a namer that returns names in order.
func NewFixedNamer(names ...string) *FixedNamer {
	return &FixedNamer{names: names}
}

// Generate returns the next predetermined name.
//
// Panics if all names have been consumed. A test that mounts more
// subscriptions than it planned for is misconfigured.
func (n *FixedNamer) Generate() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.idx >= len(n.names) {
		panic("FixedNamer: all names exhausted")
	}
	name := n.names[n.idx]
	n.idx++
	return name
}
