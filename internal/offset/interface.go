package offset

import (
	"context"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// Carry is an output block that was still open when the last parse of a
// file stopped. Event is the partial event already handed to the writer;
// HeaderLine is the 1-based line of the block's [output] header, where the
// next parse of the file must resume.
type Carry struct {
	HeaderLine int             `json:"header_line"`
	Event      domain.LogEvent `json:"event"`
}

// CarryStore persists open output blocks per file across parser runs and
// process restarts
type CarryStore interface {
	// Get returns the carry for filePath, or nil if the file has none
	Get(ctx context.Context, filePath string) (*Carry, error)

	// Set stores the carry for filePath
	Set(ctx context.Context, filePath string, carry *Carry) error

	// Delete removes the carry for filePath (no-op if absent)
	Delete(ctx context.Context, filePath string) error

	// List returns all stored carries keyed by file path
	List(ctx context.Context) (map[string]*Carry, error)

	// Close closes the store
	Close() error
}
