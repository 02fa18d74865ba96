package main

// ============================================================================
// Entry point: run the command tree, report errors on stderr, exit non-zero
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/ledger-scheduler/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
