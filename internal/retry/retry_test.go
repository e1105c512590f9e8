package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ncruces/go-sqlite3"
)

func fastConfig(attempts int) Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestIsRetryableError(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sqlite busy", err: fmt.Errorf("insert: %w", sqlite3.BUSY), want: true},
		{name: "sqlite locked", err: sqlite3.LOCKED, want: true},
		{name: "sqlite unique", err: fmt.Errorf("insert: %w", sqlite3.CONSTRAINT_UNIQUE), want: false},
		{name: "locked message", err: errors.New("database is locked"), want: true},
		{name: "clickhouse connection lost", err: errors.New("code: 999, connection lost"), want: true},
		{name: "clickhouse syntax", err: errors.New("code: 62, Syntax error"), want: false},
		{name: "context cancelled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("no such table: event"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err, cfg); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return sqlite3.BUSY
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	permanent := errors.New("no such table: event")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResult_GivesUp(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		return 0, sqlite3.BUSY
	})
	if !errors.Is(err, sqlite3.BUSY) {
		t.Errorf("expected wrapped BUSY, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(5, 10, 100, 3)
	if cfg.MaxAttempts != 5 || cfg.InitialDelay != 10*time.Millisecond ||
		cfg.MaxDelay != 100*time.Millisecond || cfg.Multiplier != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}

	def := FromSettings(0, 0, 0, 0)
	if def.MaxAttempts != 3 || def.Multiplier != 2.0 {
		t.Errorf("zero settings should keep defaults, got %+v", def)
	}
}
