package executor

import (
	"context"
	"strings"
	"sync"
	"testing"

	"golang.org/x/xerrors"

	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/sched"
)

type testJob struct {
	name string
	fail bool

	mu  sync.Mutex
	ran int
}

func (j *testJob) PrimaryInputs() []incdrv.Input {
	return []incdrv.Input{{Path: j.name, Type: incdrv.TypeSource}}
}

func (j *testJob) Describe() string { return "compile " + j.name }

func (j *testJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.ran++
	j.mu.Unlock()
	if j.fail {
		return xerrors.Errorf("intentional failure")
	}
	return nil
}

func TestPoolRunsInitialAndDiscoveredJobs(t *testing.T) {
	a := &testJob{name: "a.src"}
	b := &testJob{name: "b.src"}
	link := &testJob{name: "link"}
	queue := sched.NewJobQueue()

	var mu sync.Mutex
	finished := make(map[string]int)
	inCallback := false
	p := &Pool{Workers: 4}
	p.OnFinished = func(job Job, result error) {
		// The pool must serialize callbacks; overlapping entry would
		// corrupt a real scheduler.
		mu.Lock()
		if inCallback {
			t.Error("OnFinished reentered")
		}
		inCallback = true
		finished[job.Describe()]++
		mu.Unlock()

		// Mimic second-wave discovery: a's completion promotes b, b's
		// completion ends the build.
		switch job.(*testJob).name {
		case "a.src":
			queue.Append(b)
		case "b.src":
			queue.Append(link)
			queue.Close()
		}

		mu.Lock()
		inCallback = false
		mu.Unlock()
	}

	if err := p.Run(context.Background(), []Job{a}, queue); err != nil {
		t.Fatal(err)
	}
	for _, j := range []*testJob{a, b, link} {
		if j.ran != 1 {
			t.Errorf("%s ran %d times, want 1", j.name, j.ran)
		}
	}
	for _, want := range []string{"compile a.src", "compile b.src", "compile link"} {
		if finished[want] != 1 {
			t.Errorf("OnFinished for %q called %d times, want 1", want, finished[want])
		}
	}
}

func TestPoolAggregatesFailures(t *testing.T) {
	bad := &testJob{name: "bad.src", fail: true}
	good := &testJob{name: "good.src"}
	queue := sched.NewJobQueue()
	queue.Close()

	var results []error
	p := &Pool{Workers: 1}
	p.OnFinished = func(job Job, result error) {
		results = append(results, result)
	}
	err := p.Run(context.Background(), []Job{bad, good}, queue)
	if err == nil {
		t.Fatalf("Run succeeded despite a failing job")
	}
	if !strings.Contains(err.Error(), "compile bad.src") {
		t.Errorf("error %q does not name the failed job", err)
	}
	// Both completions were observed, failure or not.
	if len(results) != 2 {
		t.Fatalf("got %d completions, want 2", len(results))
	}
	if good.ran != 1 {
		t.Errorf("good.src ran %d times, want 1 (pool must not stop on failure)", good.ran)
	}
}
