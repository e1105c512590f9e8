package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SteelMorgan/cslogwatch/internal/cslog"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
	"github.com/SteelMorgan/cslogwatch/internal/offset"
	"github.com/SteelMorgan/cslogwatch/internal/registry"
	"github.com/SteelMorgan/cslogwatch/internal/retry"
	"github.com/SteelMorgan/cslogwatch/internal/schema"
	"github.com/SteelMorgan/cslogwatch/internal/snapshot"
	"github.com/SteelMorgan/cslogwatch/internal/writer"
)

const project = "redteam"

var excluded = []string{"events.log", "weblog.log", "downloads.log"}

// env is a complete pipeline over temporary directories
type env struct {
	root      string
	state     string
	store     *writer.SQLiteWriter
	carries   *offset.BoltDBStore
	snapshots *snapshot.Store
	filter    *logfile.Filter
	ingester  *Ingester
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{root: t.TempDir(), state: t.TempDir()}
	e.open(t)
	return e
}

// open (re)creates every component over the same directories, as a
// process restart would
func (e *env) open(t *testing.T) {
	t.Helper()
	store, err := writer.OpenSQLite(filepath.Join(e.state, "events.db"), retry.DefaultConfig())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := schema.ProvisionSQLite(context.Background(), store.DB()); err != nil {
		t.Fatalf("ProvisionSQLite() error = %v", err)
	}
	carries, err := offset.NewBoltDBStore(filepath.Join(e.state, "carry.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = carries.Close()
	})

	e.store = store
	e.carries = carries
	e.snapshots = snapshot.NewStore(e.state, project)
	e.filter = logfile.NewFilter(e.root, "**/*.log", excluded)
	e.ingester = NewIngester(project, cslog.NewParser(2019), store, carries)
}

// restart closes the stores and opens fresh components
func (e *env) restart(t *testing.T) {
	t.Helper()
	_ = e.store.Close()
	_ = e.carries.Close()
	e.open(t)
}

func (e *env) reconciler(reg *registry.Registry) *Reconciler {
	return NewReconciler(project, e.filter, reg, e.snapshots, e.carries, e.ingester, 2)
}

func (e *env) dispatcher(reg *registry.Registry) *Dispatcher {
	return NewDispatcher(project, e.filter, reg, e.snapshots, e.ingester, 2)
}

// rows returns "type|content" for every stored event in timestamp order
func (e *env) rows(t *testing.T) []string {
	t.Helper()
	rs, err := e.store.DB().Query(`SELECT eventType, content FROM event ORDER BY timestamp, eventType, content`)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()

	var out []string
	for rs.Next() {
		var typ, content string
		if err := rs.Scan(&typ, &content); err != nil {
			t.Fatal(err)
		}
		out = append(out, typ+"|"+content)
	}
	return out
}

func (e *env) savedLines(t *testing.T, path string) (int, bool) {
	t.Helper()
	snap, err := e.snapshots.Load()
	if err != nil {
		t.Fatalf("snapshot Load() error = %v", err)
	}
	tf, ok := snap.Lookup(path)
	return tf.LineCount, ok
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		t.Fatal(err)
	}
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	lineMeta    = "01/25 17:40:00 UTC [metadata] 10.0.0.5 <- 192.168.1.10; computer: WS01; user: bob; pid: 4412; os: Windows"
	lineInput   = "01/25 17:41:00 UTC [input] <op> shell whoami"
	lineTask    = "01/25 17:41:01 UTC [task] <T1033> Tasked beacon to run: whoami"
	lineOutput  = "01/25 17:41:30 UTC [output]"
	lineSleep   = "01/25 17:42:00 UTC [input] <op> sleep 5"
	lineCheckin = "01/25 17:43:00 UTC [checkin] host called home, sent: 16 bytes"
)
