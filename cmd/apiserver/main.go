// Command apiserver serves the EpiExtract HTTP and gRPC APIs. It accepts
// the flags of "epiextract serve".
package main

import (
	"os"

	"github.com/turtacn/EpiExtract/internal/interfaces/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.ExecuteSubcommand("serve"); err != nil {
		os.Exit(1)
	}
}
