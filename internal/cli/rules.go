package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xab-mack/scoutaudit/internal/cargo"
	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/engine"
	"github.com/xab-mack/scoutaudit/internal/logging"
)

func newRulesCmd(argv []string) *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Inspect installed detectors"}
	var (
		manifestPath string
		dir          string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the detectors built for the project's toolchain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cargo.ValidateManifestPath(manifestPath); err != nil {
				return configError(err)
			}
			cfg, _, err := config.Load(projectDir(manifestPath))
			if err != nil {
				return configError(err)
			}
			eng := engine.New(cfg, logging.Logger)
			eng.Stdout = cmd.OutOrStdout()
			eng.Stderr = cmd.ErrOrStderr()

			// Detectors only run in a process on the toolchain they were
			// built with, so this goes through the same dispatch as audit.
			out, reg, err := eng.LoadDetectors(cmd.Context(), argv, engine.Options{
				ManifestPath:   manifestPath,
				LocalDetectors: dir,
			})
			if err != nil {
				if engine.IsConfigError(err) {
					return configError(err)
				}
				return err
			}
			if reg == nil {
				if out.ExitCode != 0 {
					return &ExitCodeError{Code: out.ExitCode}
				}
				return nil
			}
			defer func() { _ = reg.Close() }()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range reg.Detectors() {
				m := d.Metadata()
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Severity, m.Name)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, le := range reg.Errors() {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", le.Path, le.Err)
			}
			return nil
		},
	}
	list.Flags().StringVar(&manifestPath, "manifest-path", "", "Path to Cargo.toml")
	list.Flags().StringVar(&dir, "dir", "", "Detectors directory, defaults to the configured one")
	cmd.AddCommand(list)
	return cmd
}
