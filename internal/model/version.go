package model

// Version constants for persisted and wire formats.
const (
	// DocumentFormatVersion is the version byte of Document.Save output.
	DocumentFormatVersion = 1

	// SyncMessageVersion is the version of encoded sync messages.
	SyncMessageVersion = 1

	// EngineVersion is the replichat engine version.
	EngineVersion = "0.1.0"
)
