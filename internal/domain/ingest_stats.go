package domain

import "time"

// IngestStats summarises one ingestion unit (a file range pushed through
// the parser and the storage writer)
type IngestStats struct {
	Path       string
	StartLine  int
	EndLine    int
	Events     int // Events produced by the parser
	Inserted   int // New rows written
	Duplicates int // Rows rejected by the natural-key constraint
	Failed     int // Events dropped after a persistence error
	Retracted  int // Partial output events replaced by a completed block
	Duration   time.Duration
}

// Add folds writer counters into the receiver
func (s *IngestStats) Add(other IngestStats) {
	s.Events += other.Events
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
	s.Retracted += other.Retracted
}
