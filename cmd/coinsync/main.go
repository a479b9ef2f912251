// Command coinsync keeps a local coin balance in sync with the users table.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/coinsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coinsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
