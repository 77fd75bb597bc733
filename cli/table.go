package cli

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
)

// Rule descriptions and exit node names are the longest values shown.
const maxColumnWidth = 50

// plainTable is a borderless, left-aligned layout that is easy to grep and
// to parse with awk.
var plainTable = tw.Rendition{
	Borders: tw.BorderNone,
	Symbols: tw.NewSymbols(tw.StyleASCII),
	Settings: tw.Settings{
		Lines: tw.Lines{
			ShowHeaderLine: tw.Off,
			ShowFooterLine: tw.Off,
			ShowTop:        tw.Off,
			ShowBottom:     tw.Off,
		},
		Separators: tw.Separators{
			ShowHeader:     tw.Off,
			ShowFooter:     tw.Off,
			BetweenRows:    tw.Off,
			BetweenColumns: tw.Off,
		},
	},
}

// printTable renders the rows to stdout. Nothing is written if there are no
// rows.
func printTable(appCtx *actx.Context, header []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if err := writeTable(appCtx.Stdout, header, rows); err != nil {
		return aerrors.NewRuntimeError("failed rendering table", err, "")
	}
	return nil
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(plainTable)),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			Row: tw.CellConfig{
				Formatting:   tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:    tw.CellAlignment{Global: tw.AlignLeft},
				ColMaxWidths: tw.CellWidth{Global: maxColumnWidth},
			},
		}),
	)

	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err //nolint:wrapcheck // Wrapped by printTable.
	}

	return table.Render() //nolint:wrapcheck // Wrapped by printTable.
}
