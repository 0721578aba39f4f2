package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/lineage/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true

	err := cmd.Execute()

	// Commands report their own ExitErrors; cobra argument and flag errors
	// still need printing.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
