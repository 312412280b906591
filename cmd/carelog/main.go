// Command carelog logs pet treatment sessions and keeps their daily,
// weekly and monthly aggregates.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/carelog/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
