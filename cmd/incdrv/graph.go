package main

import (
	"context"
	"flag"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/distr1/incdrv"
	"github.com/distr1/incdrv/internal/depgraph"
	"github.com/distr1/incdrv/internal/env"
	"github.com/distr1/incdrv/internal/ofm"
)

const graphHelp = `incdrv graph [-flags] <input>...

Dump the module dependency graph built from the inputs' dependency summaries:
per input its provided symbols, dependent inputs, external file dependencies,
and any dependency cycles.

Example:
  % incdrv graph -output-file-map=output-file-map.json lexer.src parser.src
`

func cmdgraph(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("graph", flag.ExitOnError)
	var (
		ofmPath = fset.String("output-file-map", env.DefaultOutputFileMap, "path to the output file map (JSON)")
	)
	fset.Usage = usage(fset, graphHelp)
	fset.Parse(args)
	if fset.NArg() == 0 {
		return xerrors.Errorf("syntax: graph <input>...")
	}

	ofmap, err := ofm.Load(*ofmPath)
	if err != nil {
		return err
	}
	var inputs []incdrv.Input
	for _, arg := range fset.Args() {
		inputs = append(inputs, incdrv.ClassifyInput(arg))
	}
	g, err := depgraph.New(inputs, func(input string) (string, bool) {
		return ofmap.GetOutput(input, ofm.TypeDeps)
	}, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	g.Dump(os.Stdout)
	return nil
}
