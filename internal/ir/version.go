package ir

// Version constants for the event schema and the engine.
const (
	// SchemaVersion is the event identity schema version. It is part of the
	// hashing domain, so bumping it changes every EventID.
	SchemaVersion = "1"

	// EngineVersion is the lineage engine version.
	EngineVersion = "0.1.0"
)
