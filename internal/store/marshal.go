package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/lineage/internal/ir"
)

// marshalClock converts a Clock to JSON TEXT for storage.
// Clock members are already sorted, so the text is deterministic.
func marshalClock(c ir.Clock) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal clock: %w", err)
	}
	return string(data), nil
}

// unmarshalClock parses JSON TEXT to a Clock.
func unmarshalClock(data string) (ir.Clock, error) {
	if data == "" || data == "[]" {
		return ir.Clock{}, nil
	}
	var c ir.Clock
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return ir.Clock{}, fmt.Errorf("unmarshal clock: %w", err)
	}
	return c, nil
}
