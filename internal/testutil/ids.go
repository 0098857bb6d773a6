package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates "<prefix>-0001", "<prefix>-0002", ... for
// deterministic record ids, claim tokens and run ids.
//
// Thread-safety: SequenceIDs is safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix becomes "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Next returns the next id. Its signature matches store.WithIDGenerator.
func (g *SequenceIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Generate is Next; it satisfies engine.RunIDGenerator.
func (g *SequenceIDs) Generate() string {
	return g.Next()
}
