// Command worker consumes documents from Kafka and extracts them. It
// accepts the flags of "epiextract worker".
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
	if err := cli.ExecuteSubcommand("worker"); err != nil {
		os.Exit(1)
	}
}
