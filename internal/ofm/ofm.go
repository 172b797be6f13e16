// Package ofm reads the output file map, a JSON document mapping each input
// to the outputs the driver produces for it:
//
//	{
//	  "": { "record": "build-record.textproto" },
//	  "lib.src": { "object": "lib.o", "deps": "lib.deps.textproto" }
//	}
//
// The empty key holds module-wide outputs, most importantly the build record.
package ofm

import (
	"encoding/json"
	"io/ioutil"

	"golang.org/x/xerrors"
)

// OutputType names one kind of output in the map.
type OutputType string

const (
	TypeObject OutputType = "object"
	TypeDeps   OutputType = "deps"
	TypeRecord OutputType = "record"
)

// Map is a parsed output file map.
type Map struct {
	byInput  map[string]map[OutputType]string
	byOutput map[string]string
}

func Load(path string) (*Map, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Map, error) {
	var raw map[string]map[OutputType]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, xerrors.Errorf("malformed output file map: %w", err)
	}
	m := &Map{
		byInput:  raw,
		byOutput: make(map[string]string),
	}
	for input, outputs := range raw {
		for _, output := range outputs {
			m.byOutput[output] = input
		}
	}
	return m, nil
}

// GetOutput returns the output of the given type for input.
func (m *Map) GetOutput(input string, t OutputType) (string, bool) {
	outputs, ok := m.byInput[input]
	if !ok {
		return "", false
	}
	out, ok := outputs[t]
	return out, ok
}

// GetInput is the reverse lookup: which input produces the given output file?
// Module-wide outputs map to the empty input.
func (m *Map) GetInput(output string) (string, bool) {
	in, ok := m.byOutput[output]
	return in, ok
}

// RecordPath returns the build record location (the "record" entry of the
// module-wide outputs).
func (m *Map) RecordPath() (string, bool) {
	return m.GetOutput("", TypeRecord)
}
