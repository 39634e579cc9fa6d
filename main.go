package main

import (
	"fmt"
	"os"

	"github.com/dstanziola/copypoint-scanner/pkg/cli"
)

func main() {
	cliApp := cli.NewCLI()
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
