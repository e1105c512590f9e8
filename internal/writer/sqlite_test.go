package writer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/retry"
	"github.com/SteelMorgan/cslogwatch/internal/schema"
)

func openTestStore(t *testing.T) *SQLiteWriter {
	t.Helper()
	w, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"), retry.DefaultConfig())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if err := schema.ProvisionSQLite(context.Background(), w.DB()); err != nil {
		t.Fatalf("ProvisionSQLite() error = %v", err)
	}
	return w
}

func sampleEvents() []domain.LogEvent {
	base := time.Date(2019, 1, 25, 17, 45, 0, 0, time.UTC)
	mk := func(sec int, typ, content, computer string) domain.LogEvent {
		return domain.LogEvent{
			Timestamp: base.Add(time.Duration(sec) * time.Second),
			EventType: typ,
			Content:   content,
			Computer:  computer,
			IPAddress: "10.0.0.5",
			PID:       "4412",
			Username:  "bob",
		}
	}
	return []domain.LogEvent{
		mk(0, "input", "<op> shell whoami", "WS01"),
		mk(1, "task", "Tasked beacon to run: whoami", "WS01"),
		mk(9, "output", "corp\\bob\n", "WS01"),
		mk(9, "output", "corp\\bob\n", "WS02"),
	}
}

func TestSQLiteWriter_Idempotent(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()
	events := sampleEvents()

	first := w.WriteEvents(ctx, "redteam", events)
	if first.Events != 4 || first.Inserted != 4 || first.Duplicates != 0 || first.Failed != 0 {
		t.Errorf("unexpected first stats %+v", first)
	}

	second := w.WriteEvents(ctx, "redteam", events)
	if second.Inserted != 0 || second.Duplicates != 4 || second.Failed != 0 {
		t.Errorf("unexpected second stats %+v", second)
	}

	n, err := w.CountEvents(ctx, "redteam")
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 stored events, got %d", n)
	}
}

func TestSQLiteWriter_ProjectScope(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()
	events := sampleEvents()[:1]

	if s := w.WriteEvents(ctx, "alpha", events); s.Inserted != 1 {
		t.Fatalf("alpha insert stats %+v", s)
	}
	if s := w.WriteEvents(ctx, "bravo", events); s.Inserted != 1 {
		t.Errorf("same event in another project should insert, got %+v", s)
	}

	var projects int
	if err := w.DB().QueryRow(`SELECT count(*) FROM project`).Scan(&projects); err != nil {
		t.Fatal(err)
	}
	if projects != 2 {
		t.Errorf("expected 2 projects, got %d", projects)
	}
}

func TestSQLiteWriter_SystemsPerProject(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()

	w.WriteEvents(ctx, "redteam", sampleEvents())
	w.WriteEvents(ctx, "redteam", sampleEvents())

	rows, err := w.DB().Query(`SELECT s.name FROM system s JOIN project p ON p.id = s.project_id WHERE p.name = ? ORDER BY s.name`, "redteam")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	if len(names) != 2 || names[0] != "WS01" || names[1] != "WS02" {
		t.Errorf("expected one system row per computer, got %v", names)
	}
}

func TestSQLiteWriter_StoresUTCTimestamp(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()
	w.WriteEvents(ctx, "redteam", sampleEvents()[:1])

	var ts string
	if err := w.DB().QueryRow(`SELECT timestamp FROM event`).Scan(&ts); err != nil {
		t.Fatal(err)
	}
	if ts != "2019-01-25T17:45:00Z" {
		t.Errorf("unexpected stored timestamp %q", ts)
	}
}

func TestSQLiteWriter_Retract(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()
	events := sampleEvents()
	w.WriteEvents(ctx, "redteam", events)

	removed, err := w.RetractEvent(ctx, "redteam", &events[2])
	if err != nil {
		t.Fatalf("RetractEvent() error = %v", err)
	}
	if !removed {
		t.Error("expected the event to be removed")
	}

	removed, err = w.RetractEvent(ctx, "redteam", &events[2])
	if err != nil || removed {
		t.Errorf("second retract should be a no-op, got removed=%v err=%v", removed, err)
	}

	removed, _ = w.RetractEvent(ctx, "other", &events[0])
	if removed {
		t.Error("retract must be scoped to the project")
	}

	n, _ := w.CountEvents(ctx, "redteam")
	if n != 3 {
		t.Errorf("expected 3 events left, got %d", n)
	}
}

func TestSQLiteWriter_FailureDoesNotAbortBatch(t *testing.T) {
	w := openTestStore(t)
	ctx := context.Background()

	// Without the event table every insert fails, but each is still counted.
	if _, err := w.DB().Exec(`DROP TABLE event`); err != nil {
		t.Fatal(err)
	}
	stats := w.WriteEvents(ctx, "redteam", sampleEvents())
	if stats.Failed != 4 || stats.Inserted != 0 {
		t.Errorf("expected every event to fail individually, got %+v", stats)
	}
}
