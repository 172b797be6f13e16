// Package diag delivers driver diagnostics (warnings and remarks) with stable
// message identifiers, so that tooling scraping driver output keeps working.
package diag

import (
	"fmt"
	"log"
)

// Stable message identifiers. The wording is a user-facing contract.
const (
	WarnIncrementalRequiresOFM = "ignoring -incremental (currently requires an output file map)"
	RemarkDisabledBecause      = "Incremental compilation has been disabled, because %s"
	RemarkIncremental          = "Incremental compilation: %s"
)

// Reporter is the diagnostics sink handed to the scheduler and the driver
// verbs. It never holds a back-reference to the driver; everything it needs
// is injected.
type Reporter struct {
	Log *log.Logger

	// ShowIncremental enables the per-input incremental decision remarks
	// (-driver-show-incremental or any show-job-lifecycle flag).
	ShowIncremental bool
}

func (r *Reporter) Warning(format string, args ...interface{}) {
	r.Log.Printf("warning: "+format, args...)
}

func (r *Reporter) Remark(format string, args ...interface{}) {
	r.Log.Printf("remark: "+format, args...)
}

// Incremental reports one incremental-compilation scheduling decision,
// optionally tagged with the input it concerns. It is a no-op unless
// ShowIncremental is set.
func (r *Reporter) Incremental(message string, path string) {
	if !r.ShowIncremental {
		return
	}
	if path != "" {
		message = fmt.Sprintf("%s %s", message, path)
	}
	r.Remark(RemarkIncremental, message)
}
