package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/incdrv"
)

const recordText = `version: "incdrv 1"
options: "184d2ace"
build_start_time: {
  sec: 100
  nsec: 0
}
input: {
  path: "lib.src"
  mtime: {
    sec: 90
    nsec: 500
  }
  status: "up-to-date"
}
input: {
  path: "main.src"
  mtime: {
    sec: 95
    nsec: 0
  }
  status: "needs-cascading-build"
}
`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(recordText))
	if err != nil {
		t.Fatal(err)
	}
	want := &BuildRecord{
		Version:   "incdrv 1",
		Options:   "184d2ace",
		BuildTime: time.Unix(100, 0).UTC(),
		Inputs: map[string]InputInfo{
			"lib.src":  {Status: UpToDate, ModTime: time.Unix(90, 500).UTC()},
			"main.src": {Status: NeedsCascadingBuild, ModTime: time.Unix(95, 0).UTC()},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse: unexpected record: diff (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	r, err := Parse([]byte(recordText))
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(r.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, again); diff != "" {
		t.Fatalf("record changed across Marshal/Parse: diff (-want +got):\n%s", diff)
	}
}

func TestLoadDeclineReasons(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build-record.textproto")

	if _, reason := Load(path, "incdrv 1", "184d2ace"); !strings.Contains(reason, "could not read build record") {
		t.Errorf("missing record: reason = %q", reason)
	}

	if err := os.WriteFile(path, []byte(recordText), 0644); err != nil {
		t.Fatal(err)
	}
	if r, reason := Load(path, "incdrv 1", "184d2ace"); r == nil {
		t.Errorf("Load unexpectedly declined: %s", reason)
	}
	if _, reason := Load(path, "incdrv 2", "184d2ace"); !strings.Contains(reason, "version mismatch") {
		t.Errorf("version skew: reason = %q", reason)
	}
	if _, reason := Load(path, "incdrv 1", "feedface"); !strings.Contains(reason, "different arguments") {
		t.Errorf("option skew: reason = %q", reason)
	}

	if err := os.WriteFile(path, []byte("version: }{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, reason := Load(path, "incdrv 1", "184d2ace"); !strings.Contains(reason, "malformed build record") {
		t.Errorf("malformed record: reason = %q", reason)
	}
}

func TestParseRejectsDuplicateInput(t *testing.T) {
	dup := recordText + `input: {
  path: "lib.src"
  mtime: {
    sec: 1
    nsec: 0
  }
  status: "up-to-date"
}
`
	if _, err := Parse([]byte(dup)); err == nil {
		t.Fatalf("Parse unexpectedly accepted a duplicate input entry")
	}
}

type fakeFileInfo struct {
	os.FileInfo
	mtime time.Time
}

func (fi fakeFileInfo) ModTime() time.Time { return fi.mtime }

func TestCaptureModTimes(t *testing.T) {
	r := &BuildRecord{}
	stat := func(path string) (os.FileInfo, error) {
		switch path {
		case "lib.src":
			return fakeFileInfo{mtime: time.Unix(90, 0)}, nil
		default:
			return nil, os.ErrNotExist
		}
	}
	r.CaptureModTimes([]incdrv.Input{
		{Path: "lib.src", Type: incdrv.TypeSource},
		{Path: "gone.src", Type: incdrv.TypeSource},
		{Path: "blob.o", Type: incdrv.TypeObject},
	}, stat)
	want := map[string]time.Time{"lib.src": time.Unix(90, 0)}
	if diff := cmp.Diff(want, r.CurrentModTimes); diff != "" {
		t.Fatalf("CaptureModTimes: diff (-want +got):\n%s", diff)
	}
}
