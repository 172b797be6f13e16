// Package depgraph maintains the module dependency graph: which source input
// provides which symbols, which inputs consume them, and which files outside
// the module an input depends on.
//
// The graph is built from per-input dependency summaries, textprotos written
// by the compiler next to each object file:
//
//	provides: "Lexer"
//	provides: "Token"
//	depends: "Diagnostics"
//	external: "/usr/include/unicode.h"
//
// The scheduler only ever talks to the graph through a narrow oracle surface
// (ExternalDependencies, ForEachUntracedDependent, SourceOf,
// FindDependentSources, FindSourcesToCompileAfter), so it can be tested
// against a fake.
package depgraph

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/protocolbuffers/txtpbfmt/ast"
	"github.com/protocolbuffers/txtpbfmt/parser"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/distr1/incdrv"
)

// SummaryNode is the graph node for one input's dependency summary. An edge
// provider→dependent exists when the dependent consumes a symbol the provider
// declares.
type SummaryNode struct {
	id    int64
	input incdrv.Input

	provides  []string
	depends   []string
	externals []string

	// traced prevents re-visiting the summary during external-dependency
	// scans within a single driver invocation.
	traced bool
}

func (n *SummaryNode) ID() int64 { return n.id }

// ExternalDep is a dependency on a file outside the module (e.g. a header or
// interface file). Path may be empty for externals without a filesystem
// location.
type ExternalDep struct {
	path       string
	dependents []*SummaryNode
}

func (e *ExternalDep) Path() string { return e.path }

// Graph is the module dependency graph.
type Graph struct {
	log *log.Logger

	g         *simple.DirectedGraph
	nodes     map[string]*SummaryNode // by input path
	providers map[string]*SummaryNode // by provided symbol
	externals map[string]*ExternalDep

	// summaryPath resolves an input path to its dependency summary file
	// (typically via the output file map).
	summaryPath func(input string) (string, bool)
}

// New builds the graph for the given inputs. A missing summary file yields an
// empty node (the change detector schedules such inputs anyway); a summary
// that exists but cannot be parsed fails construction, and the driver falls
// back to a full build.
func New(inputs []incdrv.Input, summaryPath func(input string) (string, bool), log *log.Logger) (*Graph, error) {
	g := &Graph{
		log:         log,
		g:           simple.NewDirectedGraph(),
		nodes:       make(map[string]*SummaryNode),
		providers:   make(map[string]*SummaryNode),
		externals:   make(map[string]*ExternalDep),
		summaryPath: summaryPath,
	}
	for _, in := range inputs {
		if !in.Compiles() {
			continue
		}
		n := &SummaryNode{id: g.g.NewNode().ID(), input: in}
		if err := g.readSummary(n); err != nil {
			g.log.Printf("remark: cannot build module dependency graph: %v", err)
			return nil, err
		}
		g.g.AddNode(n)
		g.nodes[in.Path] = n
	}
	g.rebuildEdges()
	return g, nil
}

// readSummary (re-)populates n from its summary file. A missing file results
// in an empty summary; a malformed file is an error.
func (g *Graph) readSummary(n *SummaryNode) error {
	n.provides, n.depends, n.externals = nil, nil, nil
	path, ok := g.summaryPath(n.input.Path)
	if !ok {
		return nil // no summary output configured for this input
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil // not yet compiled
	}
	provides, depends, externals, err := parseSummary(b)
	if err != nil {
		return xerrors.Errorf("%s: %w", path, err)
	}
	n.provides, n.depends, n.externals = provides, depends, externals
	return nil
}

func parseSummary(b []byte) (provides, depends, externals []string, _ error) {
	nodes, err := parser.Parse(b)
	if err != nil {
		return nil, nil, nil, err
	}
	strs := func(key string) ([]string, error) {
		var vals []string
		for _, n := range ast.GetFromPath(nodes, []string{key}) {
			if got, want := len(n.Values), 1; got != want {
				return nil, xerrors.Errorf("%s: got %d values, want %d", key, got, want)
			}
			v, err := strconv.Unquote(n.Values[0].Value)
			if err != nil {
				return nil, xerrors.Errorf("%s: %w", key, err)
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	if provides, err = strs("provides"); err != nil {
		return nil, nil, nil, err
	}
	if depends, err = strs("depends"); err != nil {
		return nil, nil, nil, err
	}
	if externals, err = strs("external"); err != nil {
		return nil, nil, nil, err
	}
	return provides, depends, externals, nil
}

// rebuildEdges recomputes all graph edges and side tables from the node
// summaries. Graphs stay small (one node per input), so a full rebuild after
// reintegration is cheaper than tracking deltas.
func (g *Graph) rebuildEdges() {
	var edges []graph.Edge
	for it := g.g.Edges(); it.Next(); {
		edges = append(edges, it.Edge())
	}
	for _, e := range edges {
		g.g.RemoveEdge(e.From().ID(), e.To().ID())
	}
	g.providers = make(map[string]*SummaryNode)
	for ext := range g.externals {
		g.externals[ext].dependents = nil
	}
	for _, n := range g.nodes {
		for _, sym := range n.provides {
			g.providers[sym] = n
		}
	}
	for _, n := range g.nodes {
		for _, sym := range n.depends {
			p, ok := g.providers[sym]
			if !ok || p == n {
				continue // undeclared or self dependency
			}
			g.g.SetEdge(g.g.NewEdge(p, n))
		}
		for _, ext := range n.externals {
			e, ok := g.externals[ext]
			if !ok {
				e = &ExternalDep{path: ext}
				g.externals[ext] = e
			}
			e.dependents = append(e.dependents, n)
		}
	}
	for _, e := range g.externals {
		sort.Slice(e.dependents, func(i, j int) bool {
			return e.dependents[i].input.Path < e.dependents[j].input.Path
		})
	}
}

// ExternalDependencies enumerates the externals in path order.
func (g *Graph) ExternalDependencies() []*ExternalDep {
	deps := make([]*ExternalDep, 0, len(g.externals))
	for _, e := range g.externals {
		deps = append(deps, e)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].path < deps[j].path })
	return deps
}

// ForEachUntracedDependent visits each summary directly dependent on e which
// has not been visited by any previous scan in this invocation, and marks it
// traced.
func (g *Graph) ForEachUntracedDependent(e *ExternalDep, visit func(*SummaryNode)) {
	for _, n := range e.dependents {
		if n.traced {
			continue
		}
		n.traced = true
		visit(n)
	}
}

// SourceOf maps a summary node back to its owning input.
func (g *Graph) SourceOf(n *SummaryNode) (incdrv.Input, bool) {
	if n.input.Path == "" {
		return incdrv.Input{}, false
	}
	return n.input, true
}

// FindDependentSources returns the inputs transitively reachable as
// dependents of the given input, in path order. The input itself is not
// included.
func (g *Graph) FindDependentSources(of incdrv.Input) []incdrv.Input {
	start, ok := g.nodes[of.Path]
	if !ok {
		return nil
	}
	// Breadth-first over out-edges (provider → dependent). The graph may be
	// cyclic, so track visited ids.
	var deps []incdrv.Input
	visited := map[int64]bool{start.ID(): true}
	queue := []*SummaryNode{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for it := g.g.From(n.ID()); it.Next(); {
			dep := it.Node().(*SummaryNode)
			if visited[dep.ID()] {
				continue
			}
			visited[dep.ID()] = true
			deps = append(deps, dep.input)
			queue = append(queue, dep)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })
	return deps
}

// FindSourcesToCompileAfter re-reads the summary the just-finished compile of
// input has produced and reports which further inputs are now known to need
// compilation. ok is false when the graph cannot give a precise answer (the
// summary is missing or malformed); the caller must then fall back to
// everything it previously skipped.
func (g *Graph) FindSourcesToCompileAfter(input incdrv.Input) (_ []incdrv.Input, ok bool) {
	n, found := g.nodes[input.Path]
	if !found {
		return nil, false
	}
	path, havePath := g.summaryPath(input.Path)
	if !havePath {
		return nil, false
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, false
	}
	provides, depends, externals, err := parseSummary(b)
	if err != nil {
		g.log.Printf("remark: cannot reintegrate %s: %v", path, err)
		return nil, false
	}
	unchanged := strings.Join(provides, "\x00") == strings.Join(n.provides, "\x00")
	n.provides, n.depends, n.externals = provides, depends, externals
	g.rebuildEdges()
	if unchanged {
		// The input's interface did not change, so nothing further needs
		// compilation because of it.
		return nil, true
	}
	return g.FindDependentSources(input), true
}

// Dump writes a human-readable listing of the graph for `incdrv graph`.
func (g *Graph) Dump(w io.Writer) {
	paths := make([]string, 0, len(g.nodes))
	for path := range g.nodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		n := g.nodes[path]
		fmt.Fprintf(w, "%s\n", path)
		fmt.Fprintf(w, "  provides: %s\n", strings.Join(n.provides, " "))
		var dependents []string
		for it := g.g.From(n.ID()); it.Next(); {
			dependents = append(dependents, it.Node().(*SummaryNode).input.Path)
		}
		sort.Strings(dependents)
		for _, d := range dependents {
			fmt.Fprintf(w, "  dependent: %s\n", d)
		}
		for _, ext := range n.externals {
			fmt.Fprintf(w, "  external: %s\n", ext)
		}
	}
	for _, component := range topo.TarjanSCC(g.g) {
		if len(component) < 2 {
			continue
		}
		members := make([]string, len(component))
		for i, n := range component {
			members[i] = n.(*SummaryNode).input.Path
		}
		sort.Strings(members)
		fmt.Fprintf(w, "cycle: %s\n", strings.Join(members, " "))
	}
}
