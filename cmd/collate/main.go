// Command collate runs and inspects distinguished point collision searches.
package main

import (
	"os"

	"github.com/roach88/collate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
