package domain

import "time"

// Sentinels used when a log file carries no metadata directive or an
// output block has no captured lines.
const (
	UnknownValue = "UNKNOWN"
	EmptyContent = "None"
	OutputType   = "output"
	MetadataType = "metadata"
)

// LogEvent represents a single event reconstructed from a beacon log file.
// Computer, IPAddress, PID and Username come from the last metadata
// directive found in the file, not from the line that produced the event.
type LogEvent struct {
	Timestamp time.Time // Always UTC
	EventType string    // Bracketed tag with non-letters removed (input, output, task, ...)
	Computer  string
	IPAddress string
	PID       string
	Username  string
	Content   string
}

// SameKey reports whether two events share the natural key used for
// de-duplication in the store (project scope is handled by the writer).
func (e *LogEvent) SameKey(other *LogEvent) bool {
	return e.Timestamp.Equal(other.Timestamp) &&
		e.EventType == other.EventType &&
		e.Content == other.Content &&
		e.Computer == other.Computer
}
