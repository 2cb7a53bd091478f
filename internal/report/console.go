package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// Console prints the per-category summary table and, when findings were set
// aside because their unit did not build, how many.
func Console(w io.Writer, r *model.Report, suspect int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tRESULTS\tSEVERITY")
	for _, c := range r.Summary.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c.Name, c.ResultsCount, c.Severity)
	}
	fmt.Fprintf(tw, "Total\t%d\t\n", r.Summary.TotalFindings)
	if err := tw.Flush(); err != nil {
		return err
	}
	if suspect > 0 {
		fmt.Fprintf(w, "%d finding(s) omitted from units that failed to build.\n", suspect)
	}
	if r.Incomplete {
		fmt.Fprintln(w, "This report is incomplete because some crates failed to compile. Please resolve the errors and try again.")
	}
	return nil
}
