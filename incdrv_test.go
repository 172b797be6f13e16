package incdrv

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassifyInput(t *testing.T) {
	for _, tt := range []struct {
		path string
		want InputType
	}{
		{path: "lexer.src", want: TypeSource},
		{path: "sub/dir/parser.src", want: TypeSource},
		{path: "runtime.o", want: TypeObject},
		{path: "notes.txt", want: TypeOther},
		{path: "srcfile", want: TypeOther},
	} {
		t.Run(tt.path, func(t *testing.T) {
			got := ClassifyInput(tt.path)
			if got.Type != tt.want {
				t.Errorf("ClassifyInput(%q).Type = %v, want %v", tt.path, got.Type, tt.want)
			}
			if got.Path != tt.path {
				t.Errorf("ClassifyInput(%q).Path = %q", tt.path, got.Path)
			}
		})
	}
}

func TestSourceInputs(t *testing.T) {
	inputs := []Input{
		{Path: "a.src", Type: TypeSource},
		{Path: "blob.o", Type: TypeObject},
		{Path: "b.src", Type: TypeSource},
	}
	want := []Input{
		{Path: "a.src", Type: TypeSource},
		{Path: "b.src", Type: TypeSource},
	}
	if diff := cmp.Diff(want, SourceInputs(inputs)); diff != "" {
		t.Errorf("SourceInputs: diff (-want +got):\n%s", diff)
	}
}

func TestBasename(t *testing.T) {
	in := Input{Path: "sub/dir/lexer.src", Type: TypeSource}
	if got, want := in.Basename(), "lexer.src"; got != want {
		t.Errorf("Basename = %q, want %q", got, want)
	}
}
