package cslog

import (
	"strings"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
)

// Metadata is the host context of a beacon, taken from the last metadata
// directive in the file and attached to every event parsed from it
type Metadata struct {
	IPAddress string
	Computer  string
	Username  string
	PID       string
	Line      int // 0 when the file has no metadata directive
}

// unknownMetadata is used for files without a usable directive
func unknownMetadata() Metadata {
	return Metadata{
		IPAddress: domain.UnknownValue,
		Computer:  domain.UnknownValue,
		Username:  domain.UnknownValue,
		PID:       domain.UnknownValue,
	}
}

// ReadMetadata scans the whole file and extracts host context from the
// last line containing a metadata directive
func ReadMetadata(path string) (Metadata, error) {
	var last string
	lastLine := 0
	_, err := logfile.ForEachLine(path, func(n int, line string) error {
		if strings.Contains(line, metaMarker) {
			last = line
			lastLine = n
		}
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	if lastLine == 0 {
		return unknownMetadata(), nil
	}

	md := parseMetadata(last)
	md.Line = lastLine
	return md, nil
}

// parseMetadata extracts fields from a directive line by position
func parseMetadata(line string) Metadata {
	md := unknownMetadata()

	tokens := strings.Fields(line)
	if len(tokens) < 3 || !isDate(tokens[0]) || !isClock(tokens[1]) {
		return md
	}

	l := layouts[variantOf(tokens)]
	field := func(i int) string {
		if i >= len(tokens) {
			return domain.UnknownValue
		}
		v := strings.ReplaceAll(tokens[i], ";", "")
		if v == "" {
			return domain.UnknownValue
		}
		return v
	}

	md.IPAddress = field(l.ip)
	md.Computer = field(l.computer)
	md.Username = field(l.username)
	md.PID = field(l.pid)
	return md
}
