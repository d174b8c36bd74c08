package main

import (
	"fmt"
	"os"

	"github.com/denismitr/dstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dstore:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
