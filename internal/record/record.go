// Package record reads and writes the build record, the persisted snapshot of
// the previous driver invocation: when the build started, which inputs it
// knew about, and in which state each input was left.
//
// The record is a textproto, e.g.:
//
//	version: "incdrv 1"
//	options: "184d2ace"
//	build_start_time: {
//	  sec: 1596123601
//	  nsec: 0
//	}
//	input: {
//	  path: "lib.src"
//	  mtime: {
//	    sec: 1596123000
//	    nsec: 0
//	  }
//	  status: "up-to-date"
//	}
package record

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/renameio"
	"github.com/protocolbuffers/txtpbfmt/ast"
	"github.com/protocolbuffers/txtpbfmt/parser"
	"golang.org/x/xerrors"

	"github.com/distr1/incdrv"
)

// InputStatus is the state an input was left in by the previous build.
type InputStatus int

const (
	// UpToDate inputs compiled successfully.
	UpToDate InputStatus = iota

	// NewlyAdded inputs are present in this invocation but absent from the
	// prior record.
	NewlyAdded

	// NeedsCascadingBuild inputs must rebuild, and their dependents must be
	// rechecked.
	NeedsCascadingBuild

	// NeedsNonCascadingBuild inputs must rebuild, but their dependents need
	// not be preemptively scheduled.
	NeedsNonCascadingBuild
)

var statusNames = map[InputStatus]string{
	UpToDate:               "up-to-date",
	NewlyAdded:             "newly-added",
	NeedsCascadingBuild:    "needs-cascading-build",
	NeedsNonCascadingBuild: "needs-non-cascading-build",
}

func (s InputStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("InputStatus(%d)", int(s))
}

// ParseInputStatus is the inverse of String.
func ParseInputStatus(s string) (InputStatus, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, xerrors.Errorf("unknown input status %q", s)
}

// InputInfo is the per-input portion of the record.
type InputInfo struct {
	Status InputStatus

	// ModTime is the input's modification time as of the previous build.
	ModTime time.Time
}

// BuildRecord is the parsed snapshot of the prior run.
type BuildRecord struct {
	// Version identifies the toolchain which wrote the record. A record
	// written by a different toolchain is unusable.
	Version string

	// Options is a digest over the option set. Changed options invalidate
	// the record.
	Options string

	// BuildTime is the wall-clock timestamp at which the build that wrote
	// the record started. The driver writes a record after failed builds
	// too, marking their failed inputs as needing a cascading build.
	BuildTime time.Time

	// Inputs maps input path to its prior status and modification time.
	Inputs map[string]InputInfo

	// CurrentModTimes maps input path to its modification time as observed
	// at driver startup. Inputs whose files could not be stat-ed are absent
	// (and treated as infinitely in the future by the scheduler). Filled by
	// CaptureModTimes, not persisted.
	CurrentModTimes map[string]time.Time
}

// Load reads the record at path. On any problem it returns a human-readable
// reason instead of a record; the caller turns that reason into the remark
// which explains why incremental compilation got disabled.
func Load(path, wantVersion, wantOptions string) (*BuildRecord, string) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Sprintf("could not read build record at %s: %v", path, err)
	}
	r, err := Parse(b)
	if err != nil {
		return nil, fmt.Sprintf("malformed build record at %s: %v", path, err)
	}
	if r.Version != wantVersion {
		return nil, fmt.Sprintf("compiler version mismatch. Compiling with: %s. Previously compiled with: %s", wantVersion, r.Version)
	}
	if r.Options != wantOptions {
		return nil, "different arguments were passed to the compiler"
	}
	return r, ""
}

// Parse parses a textproto build record.
func Parse(b []byte) (*BuildRecord, error) {
	nodes, err := parser.Parse(b)
	if err != nil {
		return nil, err
	}
	stringVal := func(nodes []*ast.Node, path ...string) (string, error) {
		hits := ast.GetFromPath(nodes, path)
		if got, want := len(hits), 1; got != want {
			return "", xerrors.Errorf("got %d %s keys, want %d", got, path, want)
		}
		values := hits[0].Values
		if got, want := len(values), 1; got != want {
			return "", xerrors.Errorf("%s: got %d values, want %d", path, got, want)
		}
		return strconv.Unquote(values[0].Value)
	}
	timeVal := func(nodes []*ast.Node, key string) (time.Time, error) {
		hits := ast.GetFromPath(nodes, []string{key})
		if got, want := len(hits), 1; got != want {
			return time.Time{}, xerrors.Errorf("got %d %s keys, want %d", got, key, want)
		}
		intVal := func(name string) (int64, error) {
			sub := ast.GetFromPath(hits[0].Children, []string{name})
			if got, want := len(sub), 1; got != want {
				return 0, xerrors.Errorf("%s: got %d %s keys, want %d", key, got, name, want)
			}
			if got, want := len(sub[0].Values), 1; got != want {
				return 0, xerrors.Errorf("%s.%s: got %d values, want %d", key, name, got, want)
			}
			return strconv.ParseInt(sub[0].Values[0].Value, 0, 64)
		}
		sec, err := intVal("sec")
		if err != nil {
			return time.Time{}, err
		}
		nsec, err := intVal("nsec")
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, nsec).UTC(), nil
	}

	version, err := stringVal(nodes, "version")
	if err != nil {
		return nil, err
	}
	options, err := stringVal(nodes, "options")
	if err != nil {
		return nil, err
	}
	buildTime, err := timeVal(nodes, "build_start_time")
	if err != nil {
		return nil, err
	}
	r := &BuildRecord{
		Version:   version,
		Options:   options,
		BuildTime: buildTime,
		Inputs:    make(map[string]InputInfo),
	}
	for _, in := range ast.GetFromPath(nodes, []string{"input"}) {
		path, err := stringVal(in.Children, "path")
		if err != nil {
			return nil, err
		}
		mtime, err := timeVal(in.Children, "mtime")
		if err != nil {
			return nil, xerrors.Errorf("input %s: %w", path, err)
		}
		statusName, err := stringVal(in.Children, "status")
		if err != nil {
			return nil, xerrors.Errorf("input %s: %w", path, err)
		}
		status, err := ParseInputStatus(statusName)
		if err != nil {
			return nil, xerrors.Errorf("input %s: %w", path, err)
		}
		if _, ok := r.Inputs[path]; ok {
			return nil, xerrors.Errorf("duplicate input %s", path)
		}
		r.Inputs[path] = InputInfo{Status: status, ModTime: mtime}
	}
	return r, nil
}

// CaptureModTimes stats every compiling input once and records the observed
// modification times. The scheduler works exclusively from this capture so
// that all of its decisions within one invocation see the same timestamps.
func (r *BuildRecord) CaptureModTimes(inputs []incdrv.Input, stat func(string) (os.FileInfo, error)) {
	if stat == nil {
		stat = os.Stat
	}
	r.CurrentModTimes = make(map[string]time.Time, len(inputs))
	for _, in := range inputs {
		if !in.Compiles() {
			continue
		}
		fi, err := stat(in.Path)
		if err != nil {
			continue // treated as infinitely future by the scheduler
		}
		r.CurrentModTimes[in.Path] = fi.ModTime()
	}
}

// Marshal renders the record as a textproto.
func (r *BuildRecord) Marshal() []byte {
	var b bytes.Buffer
	writeTime := func(key string, t time.Time) {
		fmt.Fprintf(&b, "%s: {\n  sec: %d\n  nsec: %d\n}\n", key, t.Unix(), t.Nanosecond())
	}
	fmt.Fprintf(&b, "version: %s\n", strconv.QuoteToASCII(r.Version))
	fmt.Fprintf(&b, "options: %s\n", strconv.QuoteToASCII(r.Options))
	writeTime("build_start_time", r.BuildTime)
	paths := make([]string, 0, len(r.Inputs))
	for path := range r.Inputs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		info := r.Inputs[path]
		fmt.Fprintf(&b, "input: {\n")
		fmt.Fprintf(&b, "  path: %s\n", strconv.QuoteToASCII(path))
		fmt.Fprintf(&b, "  mtime: {\n    sec: %d\n    nsec: %d\n  }\n", info.ModTime.Unix(), info.ModTime.Nanosecond())
		fmt.Fprintf(&b, "  status: %s\n", strconv.QuoteToASCII(info.Status.String()))
		fmt.Fprintf(&b, "}\n")
	}
	return b.Bytes()
}

// Write atomically replaces the record at path.
func (r *BuildRecord) Write(path string) error {
	return renameio.WriteFile(path, r.Marshal(), 0644)
}
