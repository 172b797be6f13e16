package incdrv

import "path/filepath"

// InputType describes what kind of file an Input refers to. Only source
// inputs participate in compilation; everything else (objects handed through
// to the linker, resource files) is filtered out before scheduling.
type InputType int

const (
	TypeSource InputType = iota
	TypeObject
	TypeOther
)

func (t InputType) String() string {
	switch t {
	case TypeSource:
		return "source"
	case TypeObject:
		return "object"
	default:
		return "other"
	}
}

// Input is one file handed to the driver on the command line.
type Input struct {
	Path string
	Type InputType
}

func (in Input) Basename() string { return filepath.Base(in.Path) }

// Compiles reports whether the input participates in compilation.
func (in Input) Compiles() bool { return in.Type == TypeSource }

// SourceInputs filters inputs down to the ones which compile, preserving
// command-line order.
func SourceInputs(inputs []Input) []Input {
	var srcs []Input
	for _, in := range inputs {
		if in.Compiles() {
			srcs = append(srcs, in)
		}
	}
	return srcs
}

// ClassifyInput derives the InputType from the file extension.
func ClassifyInput(path string) Input {
	switch filepath.Ext(path) {
	case ".src":
		return Input{Path: path, Type: TypeSource}
	case ".o":
		return Input{Path: path, Type: TypeObject}
	default:
		return Input{Path: path, Type: TypeOther}
	}
}
