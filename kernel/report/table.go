package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nmxmxh/procmesh/kernel/experiment"
)

// WriteRows prints rows as an aligned table.
func WriteRows(w io.Writer, rows []experiment.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tvariant\tmax_proc\ttot_proc\tactive\tretained\tdelivered\trepeats\tlatency\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%g\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.3f\t\n",
			r.Time, r.Variant, r.MaxProc, r.TotProc, r.Active, r.Retained,
			r.DeliveryCount, r.RepeatCount, r.MeanLatency)
	}
	return tw.Flush()
}

// WriteSummaries prints batch summaries as an aligned table.
func WriteSummaries(w io.Writer, summaries []experiment.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "scenario\tvariant\truns\tmax_proc\ttot_proc\tdelivered\trepeats\tlatency\t")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.1f\t%.2f\t%.2f\t%.3f\t\n",
			s.Scenario, s.Variant, s.Runs, s.MaxProc, s.TotProc,
			s.DeliveryCount, s.RepeatCount, s.MeanLatency)
	}
	return tw.Flush()
}
