package main

import (
	"fmt"
	"os"

	"github.com/roach88/membersync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "membersync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
