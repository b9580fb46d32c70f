package main

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/live"
	"github.com/mfroach/livebind/livestore/schema"
)

// formatObjects renders query results as a markdown table, one column
// per stored property.
func formatObjects(ent *schema.Entity, objects []*live.Object) string {
	var columns []string
	for _, p := range ent.Properties {
		if p.Type == schema.Backlink {
			continue
		}
		columns = append(columns, p.Name)
	}

	if len(objects) == 0 {
		return "_no objects_"
	}

	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, obj := range objects {
		row := make([]string, len(columns))
		for i, col := range columns {
			v, err := obj.Get(col)
			if err != nil {
				row[i] = "?"
				continue
			}
			row[i] = livestore.FormatValue(v)
		}
		table.Append(row)
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d objects_\n", len(objects)))
	return tableString.String()
}
