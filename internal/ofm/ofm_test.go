package ofm

import (
	"testing"
)

func TestLookups(t *testing.T) {
	m, err := Parse([]byte(`{
  "": { "record": "build-record.textproto" },
  "lib.src": { "object": "lib.o", "deps": "lib.deps.textproto" },
  "main.src": { "object": "main.o", "deps": "main.deps.textproto" }
}`))
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		input string
		typ   OutputType
		want  string
	}{
		{input: "lib.src", typ: TypeObject, want: "lib.o"},
		{input: "lib.src", typ: TypeDeps, want: "lib.deps.textproto"},
		{input: "main.src", typ: TypeObject, want: "main.o"},
		{input: "", typ: TypeRecord, want: "build-record.textproto"},
	} {
		got, ok := m.GetOutput(tt.input, tt.typ)
		if !ok || got != tt.want {
			t.Errorf("GetOutput(%q, %q) = %q, %v, want %q", tt.input, tt.typ, got, ok, tt.want)
		}
	}
	if in, ok := m.GetInput("main.o"); !ok || in != "main.src" {
		t.Errorf("GetInput(main.o) = %q, %v, want main.src", in, ok)
	}
	if in, ok := m.GetInput("build-record.textproto"); !ok || in != "" {
		t.Errorf("GetInput(build-record.textproto) = %q, %v, want module-wide entry", in, ok)
	}
	if _, ok := m.GetOutput("missing.src", TypeObject); ok {
		t.Errorf("GetOutput(missing.src) unexpectedly succeeded")
	}
	if p, ok := m.RecordPath(); !ok || p != "build-record.textproto" {
		t.Errorf("RecordPath() = %q, %v", p, ok)
	}
}

func TestMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{`)); err == nil {
		t.Fatalf("Parse unexpectedly succeeded on malformed JSON")
	}
}
