package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/sitemodel/pkg/engine"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResults writes apply or plan results as text or JSON.
func printResults(w io.Writer, results []*engine.ApplyResult) error {
	if jsonOutput {
		return writeJSON(w, results)
	}

	for _, res := range results {
		verb := "Applied"
		if res.DryRun {
			verb = "Planned"
		}
		s := res.Summary
		fmt.Fprintf(w, "%s site %s (run %s) in %s\n", verb, res.Site, res.RunID, res.Duration)
		fmt.Fprintf(w, "  %d created, %d updated, %d trashed, %d revisions, %d renamed, %d unchanged\n",
			s.Created, s.Updated, s.Trashed, s.Revisions, s.Renamed, s.Unchanged)

		for _, c := range res.Changes {
			fmt.Fprintf(w, "  %s\n", c)
		}
		for _, v := range res.PolicyWarnings {
			fmt.Fprintf(w, "  warning: [%s] %s\n", v.Policy, v.Message)
		}
	}
	return nil
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}
