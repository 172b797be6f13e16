package main

import (
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/depgraph"
	"github.com/distr1/incdrv/internal/diag"
	"github.com/distr1/incdrv/internal/env"
	"github.com/distr1/incdrv/internal/executor"
	"github.com/distr1/incdrv/internal/ofm"
	"github.com/distr1/incdrv/internal/record"
	"github.com/distr1/incdrv/internal/sched"
	"github.com/distr1/incdrv/internal/trace"
)

const buildHelp = `incdrv build [-flags] <input>...

Compile the module. With -incremental, consult the build record and the module
dependency graph to only recompile inputs which changed (or depend on
changes) since the previous build.

Example:
  % incdrv build -incremental -output-file-map=output-file-map.json lexer.src parser.src
`

// toolchainVersion is recorded in the build record; a record written by a
// different version is unusable.
const toolchainVersion = "incdrv 1"

type buildConfig struct {
	opts     sched.Options
	mode     sched.Mode
	ofmPath  string
	compiler string
	linker   string
	jobs     int
	inputs   []incdrv.Input
}

func parseMode(s string) (sched.Mode, error) {
	for _, m := range []sched.Mode{
		sched.ModeStandardCompile,
		sched.ModeImmediate,
		sched.ModeREPL,
		sched.ModeBatchCompile,
		sched.ModeWholeModule,
		sched.ModePrecompiledModule,
	} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, xerrors.Errorf("unknown compiler mode %q", s)
}

// optionsDigest fingerprints the option subset which invalidates the build
// record when changed.
func (cfg *buildConfig) optionsDigest() string {
	h := fnv.New64()
	fmt.Fprintf(h, "mode=%s embed-bitcode=%v compiler=%s linker=%s", cfg.mode, cfg.opts.EmbedBitcode, cfg.compiler, cfg.linker)
	return fmt.Sprintf("%x", h.Sum64())
}

func cmdbuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		incremental      = fset.Bool("incremental", false, "compile incrementally, consulting the build record")
		showIncremental  = fset.Bool("driver-show-incremental", false, "print a remark for every incremental scheduling decision")
		embedBitcode     = fset.Bool("embed-bitcode", false, "embed bitcode in objects (disables incremental compilation)")
		showJobLifecycle = fset.Bool("show-job-lifecycle", false, "print job lifecycle events (implies -driver-show-incremental remarks)")
		mode             = fset.String("mode", "standard-compile", "compiler mode (standard-compile | immediate | repl | batch-compile | whole-module | precompiled-module)")
		ofmPath          = fset.String("output-file-map", env.DefaultOutputFileMap, "path to the output file map (JSON)")
		compiler         = fset.String("compiler", "inc-compile", "compiler executable to invoke per input")
		linker           = fset.String("linker", "inc-link", "linker executable to invoke after all compilations")
		jobs             = fset.Int("jobs", runtime.NumCPU(), "number of parallel compile jobs")
		watch            = fset.Bool("watch", false, "watch the source files and rebuild on change")
	)
	fset.Usage = usage(fset, buildHelp)
	fset.Parse(args)
	if fset.NArg() == 0 {
		return xerrors.Errorf("syntax: build <input>...")
	}
	m, err := parseMode(*mode)
	if err != nil {
		return err
	}
	cfg := &buildConfig{
		opts: sched.Options{
			Incremental:      *incremental,
			ShowIncremental:  *showIncremental,
			EmbedBitcode:     *embedBitcode,
			ShowJobLifecycle: *showJobLifecycle,
		},
		mode:     m,
		ofmPath:  *ofmPath,
		compiler: *compiler,
		linker:   *linker,
		jobs:     *jobs,
	}
	for _, arg := range fset.Args() {
		cfg.inputs = append(cfg.inputs, incdrv.ClassifyInput(arg))
	}

	if !*watch {
		return runBuild(ctx, cfg)
	}
	return watchAndBuild(ctx, cfg)
}

// graphOracle adapts *depgraph.Graph to the scheduler's oracle interface.
type graphOracle struct {
	g *depgraph.Graph
}

func (o graphOracle) ExternalDependencies() []sched.ExternalDependency {
	exts := o.g.ExternalDependencies()
	deps := make([]sched.ExternalDependency, len(exts))
	for i, e := range exts {
		deps[i] = e
	}
	return deps
}

func (o graphOracle) ForEachUntracedDependent(dep sched.ExternalDependency, visit func(sched.Summary)) {
	o.g.ForEachUntracedDependent(dep.(*depgraph.ExternalDep), func(n *depgraph.SummaryNode) {
		visit(n)
	})
}

func (o graphOracle) SourceOf(s sched.Summary) (incdrv.Input, bool) {
	return o.g.SourceOf(s.(*depgraph.SummaryNode))
}

func (o graphOracle) FindDependentSources(in incdrv.Input) []incdrv.Input {
	return o.g.FindDependentSources(in)
}

func (o graphOracle) FindSourcesToCompileAfter(in incdrv.Input) ([]incdrv.Input, bool) {
	return o.g.FindSourcesToCompileAfter(in)
}

func runBuild(ctx context.Context, cfg *buildConfig) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	rep := &diag.Reporter{
		Log:             logger,
		ShowIncremental: cfg.opts.ShowIncremental || cfg.opts.ShowJobLifecycle,
	}
	buildStart := time.Now()

	var ofmap *ofm.Map
	if m, err := ofm.Load(cfg.ofmPath); err == nil {
		ofmap = m
	} else if cfg.opts.Incremental {
		logger.Printf("cannot load output file map: %v", err)
	}

	summaryPath := func(input string) (string, bool) {
		if ofmap == nil {
			return "", false
		}
		return ofmap.GetOutput(input, ofm.TypeDeps)
	}

	srcs := incdrv.SourceInputs(cfg.inputs)

	var rec *record.BuildRecord
	s := sched.New(sched.Config{
		Opts:      cfg.opts,
		Mode:      cfg.mode,
		Inputs:    cfg.inputs,
		OutputMap: ofmap,
		LoadRecord: func() (*record.BuildRecord, string) {
			path, ok := ofmap.RecordPath()
			if !ok {
				return nil, "the output file map has no build record entry"
			}
			r, reason := record.Load(path, toolchainVersion, cfg.optionsDigest())
			if r == nil {
				return nil, reason
			}
			r.CaptureModTimes(cfg.inputs, nil)
			rec = r
			return r, ""
		},
		BuildGraph: func() (sched.DependencyGraph, error) {
			g, err := depgraph.New(cfg.inputs, summaryPath, logger)
			if err != nil {
				return nil, err
			}
			return graphOracle{g: g}, nil
		},
		Reporter: rep,
		Log:      logger,
	})

	// results tracks per-input success so the next build record reflects
	// what actually happened.
	var resultsMu sync.Mutex
	results := make(map[string]error)

	newCompileJob := func(in incdrv.Input) *compileJob {
		j := &compileJob{input: in, compiler: cfg.compiler}
		if ofmap != nil {
			j.object, _ = ofmap.GetOutput(in.Path, ofm.TypeObject)
			j.deps, _ = ofmap.GetOutput(in.Path, ofm.TypeDeps)
		}
		return j
	}

	pool := &executor.Pool{
		Workers:          cfg.jobs,
		Log:              logger,
		ShowJobLifecycle: cfg.opts.ShowJobLifecycle,
	}
	pool.OnFinished = func(job executor.Job, result error) {
		cj, ok := job.(*compileJob)
		if !ok {
			return // post-compile jobs are not routed back to the scheduler
		}
		resultsMu.Lock()
		results[cj.input.Path] = result
		resultsMu.Unlock()
		if s != nil {
			s.JobFinished(cj, result)
		}
	}

	link := linkJob(cfg, ofmap, srcs)

	var runErr error
	if s == nil {
		// Full build: compile everything, then link.
		trace.Mark("full build", map[string]string{
			"inputs": fmt.Sprint(len(srcs)),
		})
		jobs := make([]executor.Job, 0, len(srcs))
		for _, in := range srcs {
			jobs = append(jobs, newCompileJob(in))
		}
		queue := sched.NewJobQueue()
		queue.Close()
		runErr = pool.Run(ctx, jobs, queue)
		if runErr == nil && link != nil {
			runErr = link.Run(ctx)
		}
	} else {
		trace.Mark("first wave computed", map[string]string{
			"first_wave": fmt.Sprint(len(s.FirstWaveInputs())),
			"skipped":    fmt.Sprint(len(s.SkippedInputs())),
		})
		initial := make([]executor.Job, 0, len(s.FirstWaveInputs()))
		for _, in := range s.FirstWaveInputs() {
			initial = append(initial, newCompileJob(in))
		}
		for _, in := range s.SkippedInputs() {
			s.AddSkippedCompileJobs(newCompileJob(in))
		}
		if link != nil {
			s.AddPostCompileJobs(link)
		}
		runErr = pool.Run(ctx, initial, s.Jobs())
	}
	trace.Mark("build finished", map[string]string{
		"success": fmt.Sprint(runErr == nil),
	})

	// An input which was scheduled but whose compile never finished (e.g.
	// the build was interrupted) is recorded like a failed compile.
	notScheduled := make(map[string]bool)
	if s != nil {
		for _, in := range s.SkippedInputs() {
			notScheduled[in.Path] = true
		}
	}
	for _, in := range srcs {
		if _, done := results[in.Path]; !done && !notScheduled[in.Path] {
			results[in.Path] = xerrors.Errorf("compile of %s did not finish", in.Path)
		}
	}

	if err := writeRecord(cfg, ofmap, rec, srcs, results, buildStart); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			logger.Printf("cannot write build record: %v", err)
		}
	}
	return runErr
}

// writeRecord persists the snapshot the next invocation will diff against.
func writeRecord(cfg *buildConfig, ofmap *ofm.Map, prior *record.BuildRecord, srcs []incdrv.Input, results map[string]error, buildStart time.Time) error {
	if ofmap == nil {
		return nil // nowhere to record anything
	}
	path, ok := ofmap.RecordPath()
	if !ok {
		return nil
	}
	next := &record.BuildRecord{
		Version:   toolchainVersion,
		Options:   cfg.optionsDigest(),
		BuildTime: buildStart,
		Inputs:    make(map[string]record.InputInfo),
	}
	for _, in := range srcs {
		var mtime time.Time
		if fi, err := os.Stat(in.Path); err == nil {
			mtime = fi.ModTime()
		}
		status := record.UpToDate
		result, compiled := results[in.Path]
		switch {
		case compiled && result != nil:
			// The compile failed or never finished; its interface state is unknown,
			// so dependents must be rechecked next time.
			status = record.NeedsCascadingBuild
		case !compiled && prior != nil:
			// Never scheduled: carry the prior state forward.
			if info, ok := prior.Inputs[in.Path]; ok {
				status = info.Status
			}
		case !compiled && prior == nil:
			// Full build should have compiled everything; if it did not
			// (e.g. interrupted), force a rebuild next time.
			status = record.NeedsCascadingBuild
		}
		next.Inputs[in.Path] = record.InputInfo{Status: status, ModTime: mtime}
	}
	return next.Write(path)
}

// compileJob invokes the compiler for one primary input.
type compileJob struct {
	input    incdrv.Input
	object   string
	deps     string
	compiler string
}

func (j *compileJob) PrimaryInputs() []incdrv.Input { return []incdrv.Input{j.input} }

func (j *compileJob) Describe() string { return "compile " + j.input.Path }

func (j *compileJob) Run(ctx context.Context) error {
	args := []string{"-c", j.input.Path}
	if j.object != "" {
		args = append(args, "-o", j.object)
	}
	if j.deps != "" {
		args = append(args, "-emit-deps", j.deps)
	}
	compile := exec.CommandContext(ctx, j.compiler, args...)
	compile.Stdout = os.Stdout
	compile.Stderr = os.Stderr
	if err := compile.Run(); err != nil {
		return xerrors.Errorf("%v: %v", compile.Args, err)
	}
	return nil
}

// moduleLinkJob links every object into the module artifact.
type moduleLinkJob struct {
	linker  string
	output  string
	objects []string
}

func (j *moduleLinkJob) PrimaryInputs() []incdrv.Input { return nil }

func (j *moduleLinkJob) Describe() string { return "link " + j.output }

func (j *moduleLinkJob) Run(ctx context.Context) error {
	args := append([]string{"-o", j.output}, j.objects...)
	ld := exec.CommandContext(ctx, j.linker, args...)
	ld.Stdout = os.Stdout
	ld.Stderr = os.Stderr
	if err := ld.Run(); err != nil {
		return xerrors.Errorf("%v: %v", ld.Args, err)
	}
	return nil
}

// linkJob builds the post-compile link job, or nil when the output file map
// does not name a module artifact.
func linkJob(cfg *buildConfig, ofmap *ofm.Map, srcs []incdrv.Input) *moduleLinkJob {
	if ofmap == nil {
		return nil
	}
	output, ok := ofmap.GetOutput("", ofm.TypeObject)
	if !ok {
		return nil
	}
	var objects []string
	for _, in := range srcs {
		if obj, ok := ofmap.GetOutput(in.Path, ofm.TypeObject); ok {
			objects = append(objects, obj)
		}
	}
	sort.Strings(objects)
	return &moduleLinkJob{linker: cfg.linker, output: output, objects: objects}
}

var _ executor.Job = (*compileJob)(nil)
var _ executor.Job = (*moduleLinkJob)(nil)
