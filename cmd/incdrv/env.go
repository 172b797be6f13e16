package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/incdrv/internal/env"
)

const envHelp = `incdrv env

Print incdrv environment details.
`

func printenv(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("env", flag.ExitOnError)
	fset.Usage = usage(fset, envHelp)
	fset.Parse(args)

	fmt.Printf("INCDRVROOT=%s\n", env.Root)
	fmt.Printf("output file map (default)=%s\n", env.DefaultOutputFileMap)
	return nil
}
