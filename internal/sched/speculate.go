package sched

import (
	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/record"
)

// computeSpeculativeInputs asks the graph for the dependents of every input
// whose prior status requires a cascading build. If a file previously needed
// a cascading rebuild, its public interface is suspect, so its dependents are
// eagerly queued even though the freshly-produced dependency summary may
// reveal that fewer are truly needed; the second wave corrects the
// approximation either way.
//
// The other statuses deliberately do not cascade: for an up-to-date input the
// nature of the change is unknown until it recompiles, a newly added input
// has no prior graph knowledge, and a noncascading build by definition left
// its interface alone.
func (s *Scheduler) computeSpeculativeInputs(changed []changedInput, initial map[string]struct{}) []incdrv.Input {
	cascading := make(map[string]struct{})
	for _, c := range changed {
		if c.status == record.NeedsCascadingBuild {
			cascading[c.input.Path] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var speculative []incdrv.Input
	for _, c := range changed {
		switch c.status {
		case record.UpToDate:
			s.report("Not scheduling dependents of "+c.input.Path+": unknown changes", "")
			continue
		case record.NewlyAdded:
			s.report("Not scheduling dependents of "+c.input.Path+": no entry in build record", "")
			continue
		case record.NeedsNonCascadingBuild:
			s.report("Not scheduling dependents of "+c.input.Path+": noncascading build", "")
			continue
		}
		for _, dep := range s.graph.FindDependentSources(c.input) {
			if _, ok := cascading[dep.Path]; ok {
				// Reported once, as cascading, by the change detector.
				continue
			}
			if _, ok := seen[dep.Path]; ok {
				continue
			}
			seen[dep.Path] = struct{}{}
			speculative = append(speculative, dep)
			if _, ok := initial[dep.Path]; !ok {
				s.report("Immediately scheduling dependent on "+c.input.Basename(), dep.Path)
			}
		}
	}
	return speculative
}
