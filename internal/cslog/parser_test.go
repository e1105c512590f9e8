package cslog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

const metaUTC = "01/25 17:40:00 UTC [metadata] 10.0.0.5 <- 192.168.1.10; computer: WS01; user: bob; pid: 4412; os: Windows; version: 6.1; beacon arch: x86"

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon_4412.log")
	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustParse(t *testing.T, path string, start, end int) *Result {
	t.Helper()
	res, err := NewParser(2019).Parse(path, start, end)
	if err != nil {
		t.Fatalf("Parse(%d, %d) error = %v", start, end, err)
	}
	return res
}

func TestParse_HeaderVariants(t *testing.T) {
	path := writeLog(t,
		"01/25 17:45:21 UTC [input] <operator> shell whoami",
		"01/25 17:45:22 [task] <T1033> Tasked beacon to run: whoami",
		"1/5 9:05:03 UTC [checkin] host called home, sent: 16 bytes",
	)

	res := mustParse(t, path, 0, 0)
	if len(res.Events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(res.Events), res.Events)
	}

	tests := []struct {
		eventType string
		content   string
		ts        time.Time
	}{
		{"input", "<operator> shell whoami", time.Date(2019, 1, 25, 17, 45, 21, 0, time.UTC)},
		{"task", "<T1033> Tasked beacon to run: whoami", time.Date(2019, 1, 25, 17, 45, 22, 0, time.UTC)},
		{"checkin", "host called home, sent: 16 bytes", time.Date(2019, 1, 5, 9, 5, 3, 0, time.UTC)},
	}
	for i, tt := range tests {
		ev := res.Events[i]
		if ev.EventType != tt.eventType {
			t.Errorf("event %d: expected type %s, got %s", i, tt.eventType, ev.EventType)
		}
		if ev.Content != tt.content {
			t.Errorf("event %d: expected content %q, got %q", i, tt.content, ev.Content)
		}
		if !ev.Timestamp.Equal(tt.ts) || ev.Timestamp.Location() != time.UTC {
			t.Errorf("event %d: expected timestamp %v, got %v", i, tt.ts, ev.Timestamp)
		}
	}
	if res.Open != nil {
		t.Errorf("no block should be open, got %+v", res.Open)
	}
}

func TestParse_OutputAggregation(t *testing.T) {
	path := writeLog(t,
		"01/25 17:45:30 UTC [output]",
		"received output:",
		"corp\\bob",
		"01/25 17:46:00 UTC [input] <operator> sleep 10",
	)

	res := mustParse(t, path, 0, 0)
	if len(res.Events) != 2 {
		t.Fatalf("expected exactly 2 events, got %d: %+v", len(res.Events), res.Events)
	}

	out := res.Events[0]
	if out.EventType != domain.OutputType {
		t.Errorf("first event should be output, got %s", out.EventType)
	}
	if out.Content != "received output:\ncorp\\bob\n" {
		t.Errorf("unexpected output content %q", out.Content)
	}
	if !out.Timestamp.Equal(time.Date(2019, 1, 25, 17, 45, 30, 0, time.UTC)) {
		t.Errorf("output event should carry its header timestamp, got %v", out.Timestamp)
	}
	if res.Events[1].EventType != "input" {
		t.Errorf("second event should be input, got %s", res.Events[1].EventType)
	}
}

func TestParse_ConsecutiveOutputBlocks(t *testing.T) {
	path := writeLog(t,
		"01/25 17:45:30 UTC [output]",
		"first",
		"01/25 17:45:31 UTC [output]",
		"01/25 17:45:32 UTC [output]",
		"third",
		"01/25 17:45:33 UTC [input] <operator> ps",
	)

	res := mustParse(t, path, 0, 0)
	want := []string{"first\n", domain.EmptyContent, "third\n", "<operator> ps"}
	if len(res.Events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), res.Events)
	}
	for i, content := range want {
		if res.Events[i].Content != content {
			t.Errorf("event %d: expected %q, got %q", i, content, res.Events[i].Content)
		}
	}
}

func TestParse_EndOfFileFlush(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		content string
	}{
		{
			name:    "continuation is last line",
			lines:   []string{"01/25 17:45:30 UTC [output]", "a", "b"},
			content: "a\nb\n",
		},
		{
			name:    "header is last line",
			lines:   []string{"01/25 17:45:29 UTC [input] <op> ls", "01/25 17:45:30 UTC [output]"},
			content: domain.EmptyContent,
		},
		{
			name:    "trailing blank lines",
			lines:   []string{"01/25 17:45:30 UTC [output]", "a", "", "   "},
			content: "a\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustParse(t, writeLog(t, tt.lines...), 0, 0)
			last := res.Events[len(res.Events)-1]
			if last.EventType != domain.OutputType || last.Content != tt.content {
				t.Errorf("expected flushed output %q, got %+v", tt.content, last)
			}
			outputs := 0
			for _, ev := range res.Events {
				if ev.EventType == domain.OutputType {
					outputs++
				}
			}
			if outputs != 1 {
				t.Errorf("expected exactly one output event, got %d", outputs)
			}
			if res.Open == nil || res.Open.Event.Content != tt.content {
				t.Errorf("open block should be reported, got %+v", res.Open)
			}
		})
	}
}

func TestParse_BlankLinesSkipped(t *testing.T) {
	path := writeLog(t,
		"",
		"01/25 17:45:30 UTC [output]",
		"a",
		"",
		"b",
		"\t",
		"01/25 17:45:31 UTC [input] <op> pwd",
		"",
	)

	res := mustParse(t, path, 0, 0)
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %+v", res.Events)
	}
	if res.Events[0].Content != "a\nb\n" {
		t.Errorf("blank lines must not be captured, got %q", res.Events[0].Content)
	}
}

func TestParse_MetadataScope(t *testing.T) {
	path := writeLog(t,
		"01/25 17:40:00 UTC [metadata] 10.0.0.9 <- 192.168.1.10; computer: OLDHOST; user: alice; pid: 100; os: Windows",
		"01/25 17:41:00 UTC [input] <op> shell hostname",
		metaUTC,
		"01/25 17:42:00 UTC [input] <op> shell whoami",
	)

	res := mustParse(t, path, 0, 0)
	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}
	for i, ev := range res.Events {
		if ev.Computer != "WS01" || ev.IPAddress != "10.0.0.5" || ev.Username != "bob" || ev.PID != "4412" {
			t.Errorf("event %d should carry the last metadata directive, got %+v", i, ev)
		}
	}
	if res.Metadata.Line != 3 {
		t.Errorf("expected metadata from line 3, got %d", res.Metadata.Line)
	}
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Metadata
	}{
		{
			name: "with UTC",
			line: metaUTC,
			want: Metadata{IPAddress: "10.0.0.5", Computer: "WS01", Username: "bob", PID: "4412"},
		},
		{
			name: "without UTC",
			line: "01/25 17:40:00 [metadata] 10.0.0.7 <- 192.168.1.10; computer: DC01; user: SYSTEM; pid: 612; os: Windows",
			want: Metadata{IPAddress: "10.0.0.7", Computer: "DC01", Username: "SYSTEM", PID: "612"},
		},
		{
			name: "truncated directive",
			line: "01/25 17:40:00 UTC [metadata] 10.0.0.5 <- 192.168.1.10; computer: WS01;",
			want: Metadata{IPAddress: "10.0.0.5", Computer: "WS01", Username: domain.UnknownValue, PID: domain.UnknownValue},
		},
		{
			name: "no date",
			line: "[metadata] 10.0.0.5 <- 192.168.1.10; computer: WS01; user: bob; pid: 4412",
			want: unknownMetadata(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseMetadata(tt.line); got != tt.want {
				t.Errorf("parseMetadata() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_NoMetadata(t *testing.T) {
	res := mustParse(t, writeLog(t, "01/25 17:41:00 UTC [input] <op> ls"), 0, 0)
	ev := res.Events[0]
	if ev.Computer != domain.UnknownValue || ev.IPAddress != domain.UnknownValue ||
		ev.Username != domain.UnknownValue || ev.PID != domain.UnknownValue {
		t.Errorf("expected UNKNOWN host context, got %+v", ev)
	}
}

func TestParse_ContinuationWhileIdle(t *testing.T) {
	path := writeLog(t,
		"01/25 17:41:00 UTC [input] <op> ls",
		"this line belongs to nothing",
	)

	_, err := NewParser(2019).Parse(path, 0, 0)
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected *LineError, got %v", err)
	}
	if lineErr.Line != 2 || lineErr.Path != path {
		t.Errorf("unexpected error location %+v", lineErr)
	}
}

func TestParse_DeltaRange(t *testing.T) {
	path := writeLog(t,
		metaUTC,
		"01/25 17:41:00 UTC [input] <op> shell whoami",
		"01/25 17:41:01 UTC [task] <T1033> Tasked beacon to run: whoami",
		"01/25 17:41:30 UTC [output]",
		"corp\\bob",
		"01/25 17:42:00 UTC [input] <op> sleep 5",
	)

	res := mustParse(t, path, 3, 4)
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events from lines 3..4, got %+v", res.Events)
	}
	if res.Events[0].EventType != "task" {
		t.Errorf("expected task first, got %s", res.Events[0].EventType)
	}
	if res.Open == nil || res.Open.HeaderLine != 4 {
		t.Fatalf("block opened at line 4 should be reported open, got %+v", res.Open)
	}
	if res.Events[1].Content != domain.EmptyContent {
		t.Errorf("block cut at its header should flush as %q, got %q", domain.EmptyContent, res.Events[1].Content)
	}

	// Resuming from the block header completes it.
	res = mustParse(t, path, res.Open.HeaderLine, 0)
	if len(res.Events) != 2 || res.Events[0].Content != "corp\\bob\n" {
		t.Errorf("resumed parse should rebuild the block, got %+v", res.Events)
	}

	// Lines before start are never emitted.
	res = mustParse(t, path, 6, 6)
	if len(res.Events) != 1 || res.Events[0].EventType != "input" {
		t.Errorf("expected only line 6, got %+v", res.Events)
	}
}

func TestParse_DeltaStartingInsideBlockFails(t *testing.T) {
	path := writeLog(t,
		"01/25 17:41:30 UTC [output]",
		"line one",
		"line two",
	)

	_, err := NewParser(2019).Parse(path, 3, 0)
	var lineErr *LineError
	if !errors.As(err, &lineErr) || lineErr.Line != 3 {
		t.Errorf("expected LineError at line 3, got %v", err)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		ok        bool
		eventType string
	}{
		{name: "utc", line: "01/25 17:45:21 UTC [input] <op> ls", ok: true, eventType: "input"},
		{name: "no utc", line: "01/25 17:45:21 [indicator] file: abc", ok: true, eventType: "indicator"},
		{name: "tag with noise", line: "01/25 17:45:21 UTC [check-in!] x", ok: true, eventType: "checkin"},
		{name: "tag only", line: "01/25 17:45:21 [output]", ok: true, eventType: "output"},
		{name: "utc without tag", line: "01/25 17:45:21 UTC", ok: false},
		{name: "utc then text", line: "01/25 17:45:21 UTC hello", ok: false},
		{name: "bad date", line: "13/45 17:45:21 UTC [input] x", ok: false},
		{name: "bad clock", line: "01/25 25:61:00 UTC [input] x", ok: false},
		{name: "iso date", line: "2019-01-25 17:45:21 UTC [input] x", ok: false},
		{name: "plain text", line: "received output:", ok: false},
		{name: "two tokens", line: "01/25 17:45:21", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := parseHeader(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseHeader(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && h.eventType != tt.eventType {
				t.Errorf("expected event type %s, got %s", tt.eventType, h.eventType)
			}
		})
	}
}

func TestParse_AssumedYear(t *testing.T) {
	path := writeLog(t, "03/01 00:00:01 UTC [input] <op> ls")
	res, err := NewParser(2024).Parse(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC)
	if !res.Events[0].Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, res.Events[0].Timestamp)
	}
}
