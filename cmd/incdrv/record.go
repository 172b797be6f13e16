package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"sort"

	"golang.org/x/xerrors"

	"github.com/distr1/incdrv/internal/env"
	"github.com/distr1/incdrv/internal/ofm"
	"github.com/distr1/incdrv/internal/record"
)

const recordHelp = `incdrv record [-flags]

Show the build record of the previous run in human-readable form.

Example:
  % incdrv record -output-file-map=output-file-map.json
`

func cmdrecord(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("record", flag.ExitOnError)
	var (
		ofmPath = fset.String("output-file-map", env.DefaultOutputFileMap, "path to the output file map (JSON)")
	)
	fset.Usage = usage(fset, recordHelp)
	fset.Parse(args)

	ofmap, err := ofm.Load(*ofmPath)
	if err != nil {
		return err
	}
	path, ok := ofmap.RecordPath()
	if !ok {
		return xerrors.Errorf("the output file map has no build record entry")
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	r, err := record.Parse(b)
	if err != nil {
		return err
	}
	fmt.Printf("version: %s\n", r.Version)
	fmt.Printf("options: %s\n", r.Options)
	fmt.Printf("build started: %s\n", r.BuildTime)
	paths := make([]string, 0, len(r.Inputs))
	for p := range r.Inputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		info := r.Inputs[p]
		fmt.Printf("  %-30s %-25s mtime %s\n", p, info.Status, info.ModTime)
	}
	return nil
}
