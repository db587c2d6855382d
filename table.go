package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/chaos-io/bgcompare/replicate"
)

// column 一列的表头、对齐和（可选的）单元格着色
type column struct {
	Title string
	Align text.Align
	Color func(cell string) text.Colors
}

func renderTable(columns []column, rows [][]string, colorize bool) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.Title
		cfg := table.ColumnConfig{Number: i + 1, Align: c.Align, AlignHeader: text.AlignLeft}
		if colorize && c.Color != nil {
			color := c.Color
			cfg.Transformer = func(v interface{}) string {
				s, _ := v.(string)
				return color(s).Sprint(s)
			}
		}
		configs[i] = cfg
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// statusColor 成功绿色、失败红色、仍在跑的黄色
func statusColor(cell string) text.Colors {
	switch replicate.Status(cell) {
	case replicate.StatusSucceeded:
		return text.Colors{text.FgGreen}
	case replicate.StatusFailed, replicate.StatusCanceled:
		return text.Colors{text.FgRed}
	case replicate.StatusStarting, replicate.StatusProcessing:
		return text.Colors{text.FgYellow}
	default:
		return nil
	}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
