package testutil

// FixedSessionGenerator returns the same session token every time.
//
// Engine log lines and golden traces include the session token of the
// batch that delivered an event; a fixed token keeps them byte-identical
// across runs.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	token string
}

// NewFixedSessionGenerator creates a generator for token.
// An empty token becomes "test-session-default".
func NewFixedSessionGenerator(token string) *FixedSessionGenerator {
	if token == "" {
		token = "test-session-default"
	}
	return &FixedSessionGenerator{token: token}
}

// Generate returns the fixed token. Implements engine.SessionGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.token
}
