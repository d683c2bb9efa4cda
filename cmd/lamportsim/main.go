// Command lamportsim simulates a cluster of Lamport logical clocks.
package main

import (
	"context"
	"fmt"
	"os"

	"lamportsim/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
