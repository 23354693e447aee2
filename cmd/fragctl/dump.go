package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/getrafty/fragments/internal/fsutil"

	"github.com/mattn/go-runewidth"
)

const dumpCellLimit = 40

func cmdDump(out, errOut io.Writer, storePath string, _ []string) int {
	var (
		versions []string
		rows     [][]string
	)

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := openStore(storePath)
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		versions = e.GetAvailableVersions()

		for _, id := range e.IDs() {
			row := make([]string, 0, len(versions)+1)
			row = append(row, id)

			for _, v := range versions {
				value, _, getErr := e.Get(id, v)
				if getErr != nil {
					return getErr
				}

				row = append(row, truncateCell(value))
			}

			rows = append(rows, row)
		}

		return nil
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	header := append([]string{"id"}, versions...)
	printTable(out, header, rows)

	return 0
}

func truncateCell(s string) string {
	s = strings.ReplaceAll(s, "\n", "⏎")

	if runewidth.StringWidth(s) <= dumpCellLimit {
		return s
	}

	width := 0

	var b strings.Builder

	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if width+w > dumpCellLimit-1 {
			break
		}

		width += w

		b.WriteRune(r)
	}

	b.WriteRune('…')

	return b.String()
}

// printTable renders header/rows as a fixed-width table, padding every cell
// to the widest display width in its column. Widths are measured with
// runewidth rather than len() so that wide (e.g. CJK) and zero-width
// characters line up the same way a terminal renders them.
func printTable(out io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))

	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	printRow(out, header, widths)

	sep := make([]string, len(header))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}

	printRow(out, sep, widths)

	for _, row := range rows {
		printRow(out, row, widths)
	}
}

func printRow(out io.Writer, cells []string, widths []int) {
	padded := make([]string, len(cells))

	for i, cell := range cells {
		pad := widths[i] - runewidth.StringWidth(cell)
		if pad < 0 {
			pad = 0
		}

		padded[i] = cell + strings.Repeat(" ", pad)
	}

	fmt.Fprintln(out, strings.Join(padded, "  "))
}
