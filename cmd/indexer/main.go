package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "Index PulseChain blocks into PostgreSQL",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the indexing pipeline (configuration is environment-only)",
				Action: run,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
