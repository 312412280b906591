package ir

// Version constants for document schema and engine.
const (
	// SchemaVersion is the document field-name schema version.
	SchemaVersion = "1"

	// EngineVersion is the carelog engine version.
	EngineVersion = "0.1.0"
)
