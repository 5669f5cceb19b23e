package main

import (
	"fmt"
	"os"

	"github.com/WildMix/Scribe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if code, ok := cli.SilentExitCode(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", cli.FormatError(err))
		os.Exit(1)
	}
}
