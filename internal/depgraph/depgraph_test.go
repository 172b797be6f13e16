package depgraph

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/incdrv"
)

func src(path string) incdrv.Input {
	return incdrv.Input{Path: path, Type: incdrv.TypeSource}
}

// writeSummaries writes one .deps.textproto per entry and returns a matching
// summaryPath func. It does not return an input list: callers pass their
// inputs to New explicitly to keep ordering obvious.
func writeSummaries(t *testing.T, dir string, summaries map[string]string) func(string) (string, bool) {
	t.Helper()
	for input, content := range summaries {
		fn := filepath.Join(dir, input+".deps.textproto")
		if err := ioutil.WriteFile(fn, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return func(input string) (string, bool) {
		return filepath.Join(dir, input+".deps.textproto"), true
	}
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(os.Stderr, t.Name()+" ", log.LstdFlags)
}

func TestFindDependentSources(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: "A"
`,
		"b.src": `provides: "B"
depends: "A"
`,
		"c.src": `provides: "C"
depends: "B"
`,
		"d.src": `provides: "D"
`,
	})
	inputs := []incdrv.Input{src("a.src"), src("b.src"), src("c.src"), src("d.src")}
	g, err := New(inputs, summaryPath, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		of   string
		want []incdrv.Input
	}{
		{of: "a.src", want: []incdrv.Input{src("b.src"), src("c.src")}},
		{of: "b.src", want: []incdrv.Input{src("c.src")}},
		{of: "c.src", want: nil},
		{of: "d.src", want: nil},
	} {
		t.Run(tt.of, func(t *testing.T) {
			got := g.FindDependentSources(src(tt.of))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FindDependentSources(%s): diff (-want +got):\n%s", tt.of, diff)
			}
		})
	}
}

func TestCyclicDependents(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: "A"
depends: "B"
`,
		"b.src": `provides: "B"
depends: "A"
`,
	})
	g, err := New([]incdrv.Input{src("a.src"), src("b.src")}, summaryPath, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	// Mutual dependency must not loop forever; each input depends on the
	// other.
	if got := g.FindDependentSources(src("a.src")); len(got) != 1 || got[0].Path != "b.src" {
		t.Errorf("FindDependentSources(a.src) = %v", got)
	}
	if got := g.FindDependentSources(src("b.src")); len(got) != 1 || got[0].Path != "a.src" {
		t.Errorf("FindDependentSources(b.src) = %v", got)
	}
}

func TestExternalDependencies(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: "A"
external: "/usr/include/runtime.h"
`,
		"b.src": `provides: "B"
external: "/usr/include/runtime.h"
external: "/usr/include/os.h"
`,
	})
	g, err := New([]incdrv.Input{src("a.src"), src("b.src")}, summaryPath, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	exts := g.ExternalDependencies()
	var paths []string
	for _, e := range exts {
		paths = append(paths, e.Path())
	}
	if diff := cmp.Diff([]string{"/usr/include/os.h", "/usr/include/runtime.h"}, paths); diff != "" {
		t.Fatalf("ExternalDependencies: diff (-want +got):\n%s", diff)
	}

	var visited []string
	for _, e := range exts {
		g.ForEachUntracedDependent(e, func(n *SummaryNode) {
			in, ok := g.SourceOf(n)
			if !ok {
				t.Fatalf("summary node without owning input")
			}
			visited = append(visited, in.Path)
		})
	}
	// b.src depends on both externals but is traced on the first visit, so
	// it appears exactly once.
	if diff := cmp.Diff([]string{"b.src", "a.src"}, visited); diff != "" {
		t.Fatalf("untraced dependents: diff (-want +got):\n%s", diff)
	}

	// A second scan visits nothing: the tracing bits persist for the
	// lifetime of the graph.
	for _, e := range exts {
		g.ForEachUntracedDependent(e, func(n *SummaryNode) {
			t.Errorf("summary for %v visited twice", n.input)
		})
	}
}

func TestMissingSummaryIsEmpty(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: "A"
`,
	})
	// b.src has no summary yet (e.g. newly added): construction must still
	// succeed.
	g, err := New([]incdrv.Input{src("a.src"), src("b.src")}, summaryPath, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := g.FindDependentSources(src("a.src")); got != nil {
		t.Errorf("FindDependentSources(a.src) = %v, want none", got)
	}
}

func TestMalformedSummaryFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: }{`,
	})
	if _, err := New([]incdrv.Input{src("a.src")}, summaryPath, testLogger(t)); err == nil {
		t.Fatalf("New unexpectedly succeeded on a malformed summary")
	}
}

func TestFindSourcesToCompileAfter(t *testing.T) {
	dir := t.TempDir()
	summaryPath := writeSummaries(t, dir, map[string]string{
		"a.src": `provides: "A"
`,
		"b.src": `provides: "B"
depends: "A"
`,
	})
	g, err := New([]incdrv.Input{src("a.src"), src("b.src")}, summaryPath, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	// Unchanged interface: the recompile discovered nothing new.
	got, ok := g.FindSourcesToCompileAfter(src("a.src"))
	if !ok {
		t.Fatalf("FindSourcesToCompileAfter(a.src) could not determine, want precise answer")
	}
	if got != nil {
		t.Errorf("unchanged interface: got %v, want none", got)
	}

	// The compile of a.src rewrote its summary with a new provided symbol:
	// dependents must recompile.
	if err := ioutil.WriteFile(filepath.Join(dir, "a.src.deps.textproto"), []byte(`provides: "A"
provides: "A2"
`), 0644); err != nil {
		t.Fatal(err)
	}
	got, ok = g.FindSourcesToCompileAfter(src("a.src"))
	if !ok {
		t.Fatalf("FindSourcesToCompileAfter(a.src) could not determine, want precise answer")
	}
	if diff := cmp.Diff([]incdrv.Input{src("b.src")}, got); diff != "" {
		t.Errorf("changed interface: diff (-want +got):\n%s", diff)
	}

	// Summary vanished: the graph must signal that it cannot determine the
	// answer precisely.
	if err := os.Remove(filepath.Join(dir, "a.src.deps.textproto")); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.FindSourcesToCompileAfter(src("a.src")); ok {
		t.Errorf("missing summary: FindSourcesToCompileAfter claims precision")
	}
}
