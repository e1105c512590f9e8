package logfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFilter_Eligible(t *testing.T) {
	root := t.TempDir()
	filter := NewFilter(root, "**/*.log", []string{"events.log", "weblog.log", "downloads.log"})

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "beacon log in subdir", path: filepath.Join(root, "190125", "10.0.0.5", "beacon_1234.log"), want: true},
		{name: "log at root", path: filepath.Join(root, "beacon.log"), want: true},
		{name: "events companion", path: filepath.Join(root, "190125", "events.log"), want: false},
		{name: "weblog companion", path: filepath.Join(root, "190125", "weblog.log"), want: false},
		{name: "downloads companion", path: filepath.Join(root, "downloads.log"), want: false},
		{name: "keystrokes text", path: filepath.Join(root, "190125", "keystrokes", "keys.txt"), want: false},
		{name: "outside root", path: filepath.Join(filepath.Dir(root), "other.log"), want: false},
		{name: "root itself", path: root, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter.Eligible(tt.path); got != tt.want {
				t.Errorf("Eligible(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty", body: "", want: 0},
		{name: "one line", body: "a\n", want: 1},
		{name: "crlf", body: "a\r\nb\r\n", want: 2},
		{name: "blank lines count", body: "a\n\n\nb\n", want: 4},
		{name: "trailing fragment ignored", body: "a\nb\npartial", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".log")
			write(t, path, tt.body)
			got, err := CountLines(path)
			if err != nil {
				t.Fatalf("CountLines() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountLines() = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := CountLines(filepath.Join(dir, "missing.log")); err == nil {
		t.Error("CountLines() of a missing file should fail")
	}
}

func TestForEachLine_StripsTerminators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	write(t, path, "first\r\nsecond\nthird\n")

	var got []string
	n, err := ForEachLine(path, func(n int, line string) error {
		got = append(got, line)
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachLine() error = %v", err)
	}
	if n != 2 || len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("unexpected scan result n=%d lines=%q", n, got)
	}
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "190125", "10.0.0.5", "beacon_1.log"), "a\nb\nc\n")
	write(t, filepath.Join(root, "190125", "10.0.0.6", "beacon_2.log"), "a\n")
	write(t, filepath.Join(root, "190125", "events.log"), "x\ny\n")
	write(t, filepath.Join(root, "190125", "notes.txt"), "x\n")

	filter := NewFilter(root, "**/*.log", []string{"events.log"})
	files, err := Enumerate(context.Background(), filter, 2)
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("expected 2 eligible files, got %+v", files)
	}
	if filepath.Base(files[0].Path) != "beacon_1.log" || files[0].LineCount != 3 {
		t.Errorf("unexpected first entry %+v", files[0])
	}
	if filepath.Base(files[1].Path) != "beacon_2.log" || files[1].LineCount != 1 {
		t.Errorf("unexpected second entry %+v", files[1])
	}
}
