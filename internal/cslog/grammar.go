package cslog

import (
	"strings"
	"time"
)

const (
	dateLayout = "1/2"
	timeLayout = "15:04:05"
	utcMarker  = "UTC"
	metaMarker = "[metadata]"
)

// headerVariant distinguishes the two line shapes written by the team
// server: with and without a "UTC" token after the clock
type headerVariant int

const (
	withoutUTC headerVariant = iota
	withUTC
)

// fieldLayout holds token offsets for one header variant. The metadata
// offsets apply to lines such as
//
//	01/25 17:45:21 UTC [metadata] 10.0.0.5 <- 192.168.1.10; computer: WS01; user: bob; pid: 4412; os: Windows; ...
type fieldLayout struct {
	tag     int
	content int

	ip       int
	computer int
	username int
	pid      int
}

var layouts = [...]fieldLayout{
	withoutUTC: {tag: 2, content: 3, ip: 3, computer: 7, username: 9, pid: 11},
	withUTC:    {tag: 3, content: 4, ip: 4, computer: 8, username: 10, pid: 12},
}

// header is a parsed event header line
type header struct {
	date      string
	clock     string
	eventType string
	content   string
}

func isDate(tok string) bool {
	_, err := time.Parse(dateLayout, tok)
	return err == nil
}

func isClock(tok string) bool {
	_, err := time.Parse(timeLayout, tok)
	return err == nil
}

func isTag(tok string) bool {
	open := strings.IndexByte(tok, '[')
	if open < 0 {
		return false
	}
	return strings.IndexByte(tok[open+1:], ']') >= 0
}

// variantOf picks the layout for tokens whose first two fields are a
// valid date and clock
func variantOf(tokens []string) headerVariant {
	if len(tokens) > 2 && tokens[2] == utcMarker {
		return withUTC
	}
	return withoutUTC
}

// parseHeader reports whether line is an event header and returns its fields
func parseHeader(line string) (header, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 3 || !isDate(tokens[0]) || !isClock(tokens[1]) {
		return header{}, false
	}

	l := layouts[variantOf(tokens)]
	if len(tokens) <= l.tag || !isTag(tokens[l.tag]) {
		return header{}, false
	}

	h := header{
		date:      tokens[0],
		clock:     tokens[1],
		eventType: normalizeType(tokens[l.tag]),
	}
	if len(tokens) > l.content {
		h.content = strings.Join(tokens[l.content:], " ")
	}
	return h, true
}

// normalizeType strips the brackets and every non-letter from a tag
func normalizeType(tag string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return -1
	}, tag)
}

// timestamp combines the MM/DD and H:MM:SS tokens with year in UTC
func timestamp(year int, date, clock string) (time.Time, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, err
	}
	c, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC), nil
}
