package ingest

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/cslog"
	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// Actions reported on operator status lines
const (
	ActionAdded     = "added"
	ActionChanged   = "changed"
	ActionTruncated = "truncated"
	ActionRemoved   = "removed"
	ActionUnchanged = "unchanged"
)

func logTransition(action, path string, oldLines, newLines int, stats domain.IngestStats) {
	ev := log.Info()
	if action == ActionUnchanged {
		ev = log.Debug()
	}
	ev.
		Str("action", action).
		Str("file", path).
		Int("old_lines", oldLines).
		Int("new_lines", newLines).
		Int("events", stats.Events).
		Int("inserted", stats.Inserted).
		Int("duplicates", stats.Duplicates).
		Int("failed", stats.Failed).
		Int("retracted", stats.Retracted).
		Dur("duration", stats.Duration).
		Msgf("File %s", action)
}

// logParseFailure reports a range that could not be ingested. The file keeps
// its previous line count so the range is retried.
func logParseFailure(action, path string, keptLines int, err error) {
	ev := log.Error().
		Err(err).
		Str("action", action).
		Str("file", path).
		Int("kept_lines", keptLines)

	var lineErr *cslog.LineError
	if errors.As(err, &lineErr) {
		ev.Int("line", lineErr.Line).Msg("Unparseable line, range not ingested")
		return
	}
	ev.Msg("Failed to ingest range")
}
