package sched

import (
	"path/filepath"

	"github.com/distr1/incdrv"
)

// computeExternallyDependentInputs walks each external dependency of the
// graph and collects the inputs whose summaries depend on an external file
// modified at or after the prior build time. An external without a
// modification time is treated as infinitely in the future and always
// triggers scheduling.
func (s *Scheduler) computeExternallyDependentInputs() []incdrv.Input {
	var implicated []incdrv.Input
	for _, ext := range s.graph.ExternalDependencies() {
		newer := true
		if path := ext.Path(); path != "" {
			if fi, err := s.stat(path); err == nil {
				newer = !fi.ModTime().Before(s.buildTime()) // >=
			}
		}
		if !newer {
			continue
		}
		s.graph.ForEachUntracedDependent(ext, func(summary Summary) {
			in, ok := s.graph.SourceOf(summary)
			if !ok {
				return // summary with no owning input
			}
			s.report("Scheduling externally-dependent on newer "+filepath.Base(ext.Path()), in.Path)
			implicated = append(implicated, in)
		})
	}
	return implicated
}
