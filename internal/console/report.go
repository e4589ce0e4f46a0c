package console

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/talgya/mars-colony/internal/agents"
)

// WriteDay prints one sol of activities as a table.
func WriteDay(w io.Writer, sol uint64, acts []agents.OneActivity) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Sol %d\n", sol)
	if len(acts) == 0 {
		fmt.Fprintln(tw, "  (no activity)")
	}
	for _, a := range acts {
		fmt.Fprintf(tw, "  %04d\t%s\t%s\n", a.StartTime, a.Description, a.Phase)
	}
	return tw.Flush()
}

// WriteReport prints every sol of a ledger in order, oldest first.
func WriteReport(w io.Writer, all map[uint64][]agents.OneActivity) error {
	sols := make([]uint64, 0, len(all))
	for sol := range all {
		sols = append(sols, sol)
	}
	sort.Slice(sols, func(i, j int) bool { return sols[i] < sols[j] })
	for _, sol := range sols {
		if err := WriteDay(w, sol, all[sol]); err != nil {
			return err
		}
	}
	return nil
}
