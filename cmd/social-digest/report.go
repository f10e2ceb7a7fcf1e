package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ryosukesatoh/social-digest/internal/runner"
)

// renderReport prints the per-account outcome of a run as a table.
func renderReport(out io.Writer, r *runner.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Account", "Outcome", "Items", "Detail"})

	for _, res := range r.Accounts {
		detail := res.Reason
		if res.Err != nil {
			detail = res.Err.Error()
		}
		t.AppendRow(table.Row{res.Account, string(res.Outcome), res.Items, detail})
	}

	digest := "none"
	if r.Aggregate != nil {
		digest = fmt.Sprintf("from %s, %d publisher(s)", strings.Join(r.Aggregate.SourceIDs, ", "), r.Notified)
	}
	t.AppendFooter(table.Row{"Run " + r.RunID, "", "", "digest " + digest})
	t.Render()
}
