package engine

import (
	"sync"

	"github.com/google/uuid"
)

// SessionGenerator produces tokens that correlate the log lines of one
// local write or one sync batch.
type SessionGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session tokens.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out predetermined tokens in order.
// It panics once the tokens run out, so a test that opens more sessions
// than it declared fails loudly.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewFixedGenerator creates a generator over tokens.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next >= len(g.tokens) {
		panic("engine: FixedGenerator exhausted")
	}
	tok := g.tokens[g.next]
	g.next++
	return tok
}
