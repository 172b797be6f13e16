// Package env captures details about the incdrv environment. Inspect the
// environment using `incdrv env`.
package env

import "os"

// Root is $INCDRVROOT, or the working directory when that is unset. It is
// reported by `incdrv env`; inputs, the output file map and build artifacts
// are resolved relative to the working directory, not to Root.
var Root = findRoot()

func findRoot() string {
	env := os.Getenv("INCDRVROOT")
	if env != "" {
		return env
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// DefaultOutputFileMap is where `incdrv build` looks for the output file map
// unless -output-file-map is given.
const DefaultOutputFileMap = "output-file-map.json"
