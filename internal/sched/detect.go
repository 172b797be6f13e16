package sched

import (
	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/record"
)

// changedInput pairs an input which must compile with the prior status that
// got it scheduled.
type changedInput struct {
	input  incdrv.Input
	status record.InputStatus
}

// computeChangedInputs diffs the captured modification times against the
// prior build record and classifies each compiling input. Input-list order is
// preserved.
func (s *Scheduler) computeChangedInputs(srcs []incdrv.Input) []changedInput {
	var changed []changedInput
	for _, in := range srcs {
		status := record.NewlyAdded
		if info, ok := s.rec.Inputs[in.Path]; ok {
			status = info.Status
		}
		// An input with no current modification time (e.g. its file could
		// not be stat-ed) is treated as infinitely in the future, which
		// guarantees scheduling.
		mtime, hasMtime := s.rec.CurrentModTimes[in.Path]

		switch status {
		case record.UpToDate:
			if hasMtime && mtime.Before(s.buildTime()) {
				s.report("Skipping current", in.Path)
				continue
			}
			s.report("Scheduling changed input", in.Path)
		case record.NewlyAdded:
			s.report("Scheduling new", in.Path)
		case record.NeedsCascadingBuild:
			s.report("Scheduling cascading build", in.Path)
		case record.NeedsNonCascadingBuild:
			s.report("Scheduling noncascading build", in.Path)
		}
		changed = append(changed, changedInput{input: in, status: status})
	}
	return changed
}
