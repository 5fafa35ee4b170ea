package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/shpitdev/price-sheet-tracker/internal/config"
	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
)

func renderSummary(w io.Writer, mode config.Mode, dryRun bool, s tracker.RunSummary) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	title := "pricetracker " + string(mode)
	if dryRun {
		title += " (dry run)"
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Considered", "Updated", "Skipped", "Failed"})
	t.AppendRow(table.Row{s.Considered, s.Updated, s.Skipped, s.Failed})
	t.Render()
}
