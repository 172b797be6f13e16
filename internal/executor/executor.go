// Package executor drains compile jobs onto a bounded worker pool. It is
// deliberately unaware of scheduling policy: the scheduler hands it an
// initial job list plus a closeable queue of dynamically-discovered work, and
// learns about completions through a serialized callback.
//
// The pool does track which wave delivered each job — the initial list is the
// first wave, queue arrivals are second-wave discoveries (or post-compile
// jobs, which carry no primary inputs) — so that progress output and the
// build timeline show how much of the build was discovered dynamically.
package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/incdrv/internal/sched"
	"github.com/distr1/incdrv/internal/trace"
)

// Job is a schedulable unit the pool can actually run.
type Job interface {
	sched.Job

	// Run performs the work, honoring ctx cancellation.
	Run(ctx context.Context) error

	// Describe returns a short human-readable label, e.g. "compile lib.src".
	Describe() string
}

// The wave labels attached to jobs for progress and trace output.
const (
	waveFirst       = "first"
	waveDiscovered  = "discovered"
	wavePostCompile = "post-compile"
)

// Pool executes jobs on Workers goroutines.
type Pool struct {
	Workers int

	// Log receives job lifecycle events when ShowJobLifecycle is set.
	Log              *log.Logger
	ShowJobLifecycle bool

	// OnFinished is invoked after each job completes, one call at a time
	// (the pool serializes invocations, matching the scheduler's
	// single-threaded contract).
	OnFinished func(job Job, result error)

	finishedMu sync.Mutex

	failedMu sync.Mutex
	failed   []string
}

// work is one job annotated with the wave which delivered it.
type work struct {
	job  Job
	wave string
}

// progress renders a one-line build status on a terminal, broken down by
// wave so that dynamically-discovered work is visible as it is promoted:
//
//	4/7 jobs done (first wave 5, discovered 2, failed 1)
type progress struct {
	mu  sync.Mutex
	out io.Writer
	tty bool

	first, discovered, post int
	done, failed            int
	last                    time.Time
}

func newProgress() *progress {
	fi, err := os.Stdout.Stat()
	return &progress{
		out: os.Stdout,
		tty: err == nil && fi.Mode()&os.ModeCharDevice != 0,
	}
}

func (p *progress) scheduled(wave string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch wave {
	case waveFirst:
		p.first++
	case waveDiscovered:
		p.discovered++
	default:
		p.post++
	}
	p.renderLocked(false)
}

func (p *progress) finished(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if failed {
		p.failed++
	}
	p.renderLocked(true)
}

func (p *progress) renderLocked(force bool) {
	if !p.tty {
		return
	}
	if !force && time.Since(p.last) < 100*time.Millisecond {
		// rendering too frequently slows down the build
		return
	}
	p.last = time.Now()
	line := fmt.Sprintf("%d/%d jobs done (first wave %d, discovered %d",
		p.done, p.first+p.discovered+p.post, p.first, p.discovered)
	if p.post > 0 {
		line += fmt.Sprintf(", post-compile %d", p.post)
	}
	if p.failed > 0 {
		line += fmt.Sprintf(", failed %d", p.failed)
	}
	fmt.Fprintf(p.out, "\r\033[K%s)", line)
}

// clear erases the status line so regular output starts on a fresh line.
func (p *progress) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tty {
		return
	}
	fmt.Fprintf(p.out, "\r\033[K")
}

func (p *Pool) lifecycle(format string, args ...interface{}) {
	if !p.ShowJobLifecycle || p.Log == nil {
		return
	}
	p.Log.Printf(format, args...)
}

func (p *Pool) finish(job Job, result error) {
	p.finishedMu.Lock()
	defer p.finishedMu.Unlock()
	if p.OnFinished != nil {
		p.OnFinished(job, result)
	}
}

// Run executes the initial jobs plus everything arriving on queue until the
// queue closes and all workers drain. Job failures do not stop the pool (the
// scheduler needs to observe every completion); they are aggregated into the
// returned error.
func (p *Pool) Run(ctx context.Context, initial []Job, queue *sched.JobQueue) error {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	prog := newProgress()

	ch := make(chan work)

	// The feeder delivers the first wave, then follows the queue until the
	// scheduler closes it. Queue arrivals with primary inputs are
	// second-wave promotions; the rest are post-compile jobs.
	go func() {
		defer close(ch)
		for _, job := range initial {
			prog.scheduled(waveFirst)
			select {
			case ch <- work{job: job, wave: waveFirst}:
			case <-ctx.Done():
				return
			}
		}
		for {
			next, ok := queue.Next()
			if !ok {
				return
			}
			job, ok := next.(Job)
			if !ok {
				panic(fmt.Sprintf("BUG: job %T is not runnable", next))
			}
			wave := waveDiscovered
			if len(job.PrimaryInputs()) == 0 {
				wave = wavePostCompile
			}
			prog.scheduled(wave)
			select {
			case ch <- work{job: job, wave: wave}:
			case <-ctx.Done():
				return
			}
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i // copy
		eg.Go(func() error {
			for w := range ch {
				if err := ctx.Err(); err != nil {
					return err
				}
				p.lifecycle("started %s [%s wave]", w.job.Describe(), w.wave)
				span := trace.Span(w.job.Describe(), i, w.wave)
				err := w.job.Run(ctx)
				span()
				if err != nil {
					p.lifecycle("failed %s: %v", w.job.Describe(), err)
					p.failedMu.Lock()
					p.failed = append(p.failed, w.job.Describe())
					p.failedMu.Unlock()
				} else {
					p.lifecycle("finished %s", w.job.Describe())
				}
				prog.finished(err != nil)
				p.finish(w.job, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	prog.clear()
	p.failedMu.Lock()
	defer p.failedMu.Unlock()
	if len(p.failed) > 0 {
		return xerrors.Errorf("%d job(s) failed: %s", len(p.failed), strings.Join(p.failed, ", "))
	}
	return nil
}
