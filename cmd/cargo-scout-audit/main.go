package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/xab-mack/scoutaudit/internal/app"
	"github.com/xab-mack/scoutaudit/internal/cli"
)

func main() {
	argv := os.Args[1:]
	// cargo invokes subcommand binaries as `cargo-scout-audit scout-audit ...`.
	if len(argv) > 0 && argv[0] == "scout-audit" {
		argv = argv[1:]
	}
	if err := app.BuildRoot(argv).Execute(); err != nil {
		var exit *cli.ExitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
