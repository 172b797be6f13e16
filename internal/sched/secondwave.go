package sched

import (
	"sort"

	"github.com/distr1/incdrv"
)

// AddSkippedCompileJobs registers the jobs the driver created for skipped
// inputs, so the second wave can promote them later. Registering two jobs for
// the same input is a programming error.
func (s *Scheduler) AddSkippedCompileJobs(jobs ...Job) {
	for _, job := range jobs {
		for _, in := range job.PrimaryInputs() {
			if _, ok := s.skippedJobs[in.Path]; ok {
				panic("BUG: duplicate skipped compile job for " + in.Path)
			}
			s.skippedJobs[in.Path] = job
		}
	}
}

// AddPostCompileJobs registers jobs to run after all compilations. While
// compile work may still arrive, the jobs are buffered and released by
// maybeFinishedWithCompilations; once the queue has closed (no more compile
// work will ever arrive), they are appended directly.
func (s *Scheduler) AddPostCompileJobs(jobs ...Job) {
	for _, job := range jobs {
		if s.queue.IsOpen() {
			s.postCompileJobs = append(s.postCompileJobs, job)
		} else {
			s.queue.appendClosed(job)
		}
	}
}

// JobFinished is invoked by the executor as each job completes, one call at a
// time per scheduler instance. It consults the graph about work discovered by
// the just-finished compile, promotes previously-skipped jobs, and retires
// the job's primary inputs from the pending set. A non-success result is
// treated identically for state-machine purposes; the driver decides whether
// to abort the overall build.
func (s *Scheduler) JobFinished(job Job, result error) {
	if s.inJobFinished {
		panic("BUG: JobFinished reentered; completion callbacks must be serialized")
	}
	s.inJobFinished = true
	defer func() { s.inJobFinished = false }()

	discovered := s.collectSourcesToCompileAfter(job)
	for _, in := range discovered {
		skipped, ok := s.skippedJobs[in.Path]
		if !ok {
			// Already scheduled (first wave, or promoted by an earlier
			// completion). Not an error.
			s.report("Tried to schedule 2nd wave input again", in.Path)
			continue
		}
		s.report("Scheduling for 2nd wave", in.Path)
		delete(s.skippedJobs, in.Path)
		for _, primary := range skipped.PrimaryInputs() {
			delete(s.skippedInputs, primary.Path)
			s.pendingInputs[primary.Path] = struct{}{}
			s.report("Queuing because of dependencies discovered later:", primary.Path)
		}
		s.queue.Append(skipped)
	}

	for _, in := range job.PrimaryInputs() {
		delete(s.pendingInputs, in.Path)
	}
	s.maybeFinishedWithCompilations()
}

// collectSourcesToCompileAfter unions the graph's answer across the job's
// primary inputs. If the graph cannot answer precisely for any of them,
// everything currently skipped is considered potentially required.
func (s *Scheduler) collectSourcesToCompileAfter(job Job) []incdrv.Input {
	seen := make(map[string]struct{})
	var discovered []incdrv.Input
	for _, in := range job.PrimaryInputs() {
		more, ok := s.graph.FindSourcesToCompileAfter(in)
		if !ok {
			// Conservative fallback: retry everything currently skipped.
			discovered = discovered[:0]
			for path := range s.skippedInputs {
				discovered = append(discovered, s.inputsByPath[path])
			}
			sort.Slice(discovered, func(i, j int) bool { return discovered[i].Path < discovered[j].Path })
			return discovered
		}
		for _, m := range more {
			if _, dup := seen[m.Path]; dup {
				continue
			}
			seen[m.Path] = struct{}{}
			discovered = append(discovered, m)
		}
	}
	sort.Slice(discovered, func(i, j int) bool { return discovered[i].Path < discovered[j].Path })
	return discovered
}

// maybeFinishedWithCompilations releases the buffered post-compile jobs and
// closes the queue once the pending set has drained. The release happens at
// most once.
func (s *Scheduler) maybeFinishedWithCompilations() {
	if len(s.pendingInputs) != 0 || s.finished {
		return
	}
	s.finished = true
	if len(s.postCompileJobs) > 0 {
		s.queue.Append(s.postCompileJobs...)
		s.postCompileJobs = nil
	}
	s.queue.Close()
}
