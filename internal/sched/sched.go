// Package sched decides which inputs must be recompiled on the current driver
// invocation and schedules the resulting compile jobs in two waves.
//
// The first wave is computed up front from file modification times, the prior
// build record and external-dependency timestamps, plus a speculative set of
// likely-affected dependents. As first-wave jobs finish, the scheduler
// re-reads their just-produced dependency summaries through the graph oracle
// and promotes previously-skipped inputs into the run (the second wave). Once
// the pending set drains, buffered post-compile jobs are released and the job
// queue closes.
package sched

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/diag"
	"github.com/distr1/incdrv/internal/ofm"
	"github.com/distr1/incdrv/internal/record"
)

// Mode is the compiler mode of this invocation. Only some modes support
// incremental compilation.
type Mode int

const (
	ModeStandardCompile Mode = iota
	ModeImmediate
	ModeREPL
	ModeBatchCompile
	ModeWholeModule
	ModePrecompiledModule
)

func (m Mode) String() string {
	switch m {
	case ModeStandardCompile:
		return "standard-compile"
	case ModeImmediate:
		return "immediate"
	case ModeREPL:
		return "repl"
	case ModeBatchCompile:
		return "batch-compile"
	case ModeWholeModule:
		return "whole-module"
	case ModePrecompiledModule:
		return "precompiled-module"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// SupportsIncremental reports whether the mode compiles inputs one by one (a
// prerequisite for scheduling them individually).
func (m Mode) SupportsIncremental() bool {
	switch m {
	case ModeStandardCompile, ModeImmediate, ModeREPL, ModeBatchCompile:
		return true
	default:
		return false
	}
}

// Options is the subset of driver options the scheduler inspects.
type Options struct {
	Incremental      bool
	ShowIncremental  bool
	EmbedBitcode     bool
	ShowJobLifecycle bool
}

// Job is one unit of work handed to the executor. The scheduler never runs
// jobs itself; it only tracks their primary inputs.
type Job interface {
	PrimaryInputs() []incdrv.Input
}

// ExternalDependency is a dependency on a file outside the module; Path may
// be empty when the dependency has no filesystem location.
type ExternalDependency interface {
	Path() string
}

// Summary is an opaque per-input dependency summary node of the graph.
type Summary interface{}

// DependencyGraph is the narrow oracle surface the scheduler couples to, so
// it can be tested against a fake graph.
type DependencyGraph interface {
	ExternalDependencies() []ExternalDependency

	// ForEachUntracedDependent visits each summary directly dependent on
	// the external dep, marking it traced so a given summary is visited at
	// most once across the invocation.
	ForEachUntracedDependent(ExternalDependency, func(Summary))

	// SourceOf reverse-maps a summary node to its owning input.
	SourceOf(Summary) (incdrv.Input, bool)

	// FindDependentSources returns the inputs transitively reachable as
	// dependents of the given input.
	FindDependentSources(incdrv.Input) []incdrv.Input

	// FindSourcesToCompileAfter recomputes, after a just-finished compile,
	// the set of further inputs now known to need compilation. ok is false
	// when the graph cannot give a precise answer; the scheduler then falls
	// back to everything previously skipped.
	FindSourcesToCompileAfter(incdrv.Input) ([]incdrv.Input, bool)
}

// Config carries everything New needs. Collaborators are injected; the
// scheduler holds no back-reference to the driver.
type Config struct {
	Opts   Options
	Mode   Mode
	Inputs []incdrv.Input

	OutputMap *ofm.Map

	// LoadRecord reads the prior build record, or returns a human-readable
	// reason why it is unusable.
	LoadRecord func() (*record.BuildRecord, string)

	// BuildGraph constructs the module dependency graph. On failure the
	// graph is expected to have emitted its own remark.
	BuildGraph func() (DependencyGraph, error)

	Reporter *diag.Reporter
	Log      *log.Logger

	// Stat overrides filesystem access for tests. Defaults to os.Stat.
	Stat func(path string) (os.FileInfo, error)
}

// Scheduler is created once per driver invocation and lives until all compile
// and post-compile jobs have been delivered.
//
// All mutations happen inside construction, JobFinished or
// AddPostCompileJobs, never concurrently; the executor must serialize its
// completion callbacks.
type Scheduler struct {
	log   *log.Logger
	rep   *diag.Reporter
	graph DependencyGraph
	rec   *record.BuildRecord
	stat  func(path string) (os.FileInfo, error)

	inputsByPath map[string]incdrv.Input

	firstWave []incdrv.Input

	// pendingInputs tracks inputs whose compile has been scheduled but not
	// yet observed finishing. An input leaves exactly once, in JobFinished.
	pendingInputs map[string]struct{}

	// skippedInputs holds every input not in the first wave; second-wave
	// promotion removes entries.
	skippedInputs map[string]struct{}

	// skippedJobs indexes the driver-registered jobs for skipped inputs by
	// primary input path.
	skippedJobs map[string]Job

	postCompileJobs []Job
	queue           *JobQueue

	// inJobFinished guards against concurrent completion callbacks, which
	// would corrupt scheduler state. Plain boolean on purpose: the executor
	// contract is single-threaded delivery.
	inJobFinished bool

	// finished is set once the pending set has drained and post-compile
	// jobs have been released.
	finished bool
}

// New decides whether this invocation can compile incrementally and, if so,
// computes the first wave. It returns nil when declining; the driver then
// performs a full build.
func New(cfg Config) *Scheduler {
	if !cfg.Opts.Incremental {
		return nil
	}
	if !cfg.Mode.SupportsIncremental() {
		cfg.Reporter.Remark(diag.RemarkDisabledBecause,
			fmt.Sprintf("the %s compiler mode does not support incremental compilation", cfg.Mode))
		return nil
	}
	if cfg.Opts.EmbedBitcode {
		cfg.Reporter.Remark(diag.RemarkDisabledBecause, "-embed-bitcode is not currently compatible with incremental compilation")
		return nil
	}
	if cfg.OutputMap == nil {
		cfg.Reporter.Warning(diag.WarnIncrementalRequiresOFM)
		return nil
	}
	rec, reason := cfg.LoadRecord()
	if rec == nil {
		cfg.Reporter.Remark(diag.RemarkDisabledBecause, reason)
		return nil
	}
	graph, err := cfg.BuildGraph()
	if err != nil {
		return nil // the graph emits its own remark
	}
	stat := cfg.Stat
	if stat == nil {
		stat = os.Stat
	}
	s := &Scheduler{
		log:           cfg.Log,
		rep:           cfg.Reporter,
		graph:         graph,
		rec:           rec,
		stat:          stat,
		inputsByPath:  make(map[string]incdrv.Input),
		pendingInputs: make(map[string]struct{}),
		skippedInputs: make(map[string]struct{}),
		skippedJobs:   make(map[string]Job),
		queue:         NewJobQueue(),
	}
	for _, in := range cfg.Inputs {
		s.inputsByPath[in.Path] = in
	}
	s.computeFirstWave(incdrv.SourceInputs(cfg.Inputs))
	s.maybeFinishedWithCompilations()
	return s
}

func (s *Scheduler) report(message, path string) {
	s.rep.Incremental(message, path)
}

// computeFirstWave merges the changed, externally-dependent and speculative
// sets, fills pendingInputs and the skipped set, and reports every decision.
func (s *Scheduler) computeFirstWave(srcs []incdrv.Input) {
	changed := s.computeChangedInputs(srcs)
	external := s.computeExternallyDependentInputs()

	initial := make(map[string]struct{})
	for _, c := range changed {
		initial[c.input.Path] = struct{}{}
	}
	for _, in := range external {
		initial[in.Path] = struct{}{}
	}

	speculative := s.computeSpeculativeInputs(changed, initial)

	wave := make(map[string]bool, len(initial)+len(speculative)) // path → dependent?
	for path := range initial {
		wave[path] = false
	}
	for _, in := range speculative {
		if _, ok := wave[in.Path]; !ok {
			wave[in.Path] = true
			s.inputsByPath[in.Path] = in
		}
	}
	paths := make([]string, 0, len(wave))
	for path := range wave {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if wave[path] {
			s.report("Queuing (dependent):", path)
		} else {
			s.report("Queuing (initial):", path)
		}
		s.firstWave = append(s.firstWave, s.inputsByPath[path])
		s.pendingInputs[path] = struct{}{}
	}

	var skipped []string
	for path := range s.rec.CurrentModTimes {
		if _, ok := wave[path]; ok {
			continue
		}
		skipped = append(skipped, path)
	}
	sort.Strings(skipped)
	for _, path := range skipped {
		s.report("Skipping:", path)
		s.skippedInputs[path] = struct{}{}
	}
}

// FirstWaveInputs is the initial compile set in path-name sort order.
func (s *Scheduler) FirstWaveInputs() []incdrv.Input {
	return s.firstWave
}

// SkippedInputs returns the inputs currently excluded from the run, in path
// order.
func (s *Scheduler) SkippedInputs() []incdrv.Input {
	var skipped []incdrv.Input
	for path := range s.skippedInputs {
		skipped = append(skipped, s.inputsByPath[path])
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	return skipped
}

// Jobs returns the dynamically-discovered job stream. The executor drains it
// until it closes.
func (s *Scheduler) Jobs() *JobQueue {
	return s.queue
}

// buildTime returns the prior build's start timestamp.
func (s *Scheduler) buildTime() time.Time {
	return s.rec.BuildTime
}
