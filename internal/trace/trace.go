// Package trace records the build timeline as a Chrome trace event file
// (load in chrome://tracing): one span per compile job, tagged with the wave
// which scheduled it, plus instant markers for driver transitions (first
// wave computed, full-build fallback, build finished).
package trace

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"sync"
	"time"
)

// event is one entry in Chrome's JSON array format. The field tags are
// dictated by the trace viewer.
type event struct {
	Name     string            `json:"name"`
	Phase    string            `json:"ph"` // "X" span, "i" instant
	Start    int64             `json:"ts"` // µs since timeline start
	Duration int64             `json:"dur,omitempty"`
	Pid      int               `json:"pid"`
	Tid      int               `json:"tid"` // worker index
	Scope    string            `json:"s,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
}

var timeline struct {
	sync.Mutex
	w     io.Writer
	start time.Time
}

func init() {
	timeline.w = ioutil.Discard
	timeline.start = time.Now()
}

// Sink directs all following spans and markers into w as a Chrome trace
// event file.
func Sink(w io.Writer) {
	timeline.Lock()
	defer timeline.Unlock()
	timeline.w = w
	// JSON array format; the closing ] is optional and skipped so that an
	// interrupted build still leaves a loadable file.
	w.Write([]byte{'['})
}

func emit(ev event) {
	b, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	timeline.Lock()
	defer timeline.Unlock()
	if _, err := timeline.w.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}

func since(t time.Time) int64 {
	return int64(time.Since(t) / time.Microsecond)
}

// Span starts a duration event for one job on the given worker, annotated
// with the wave which scheduled it ("first", "discovered", "post-compile").
// The returned func emits the event when the job finishes.
func Span(name string, worker int, wave string) func() {
	begin := time.Now()
	return func() {
		emit(event{
			Name:     name,
			Phase:    "X",
			Start:    since(timeline.start) - since(begin),
			Duration: since(begin),
			Tid:      worker,
			Args:     map[string]string{"wave": wave},
		})
	}
}

// Mark emits an instant marker across the whole timeline, e.g. when the
// scheduler finishes planning the first wave or the build finishes.
func Mark(name string, args map[string]string) {
	emit(event{
		Name:  name,
		Phase: "i",
		Start: since(timeline.start),
		Scope: "p", // process-wide
		Args:  args,
	})
}
