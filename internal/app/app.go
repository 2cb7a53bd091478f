package app

import (
	"github.com/spf13/cobra"

	"github.com/xab-mack/scoutaudit/internal/cli"
)

// BuildRoot assembles the command tree. argv is the command line without
// the program name.
func BuildRoot(argv []string) *cobra.Command {
	root := &cobra.Command{
		Use:   "cargo-scout-audit",
		Short: "Audit Rust smart contracts with Scout detectors",
	}
	cli.AddCommands(root, argv)
	root.SetArgs(argv)
	return root
}
