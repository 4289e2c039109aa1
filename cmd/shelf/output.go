package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/material"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives status lines. Data goes to the command's stdout.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func writeMaterialTable(w io.Writer, ms []material.Material) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tTYPE\tTITLE\tDETAIL")
	for _, m := range ms {
		detail := ""
		if f, ok := m.File(); ok {
			detail = f.FileName + " (" + f.FileSize + ")"
		}
		if l, ok := m.Link(); ok {
			detail = l.URL
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.Category, m.Kind(), m.Title, detail)
	}
	return tw.Flush()
}

func writeMaterial(w io.Writer, m material.Material) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-12s %s\n", colorize(colorBold, label+":"), value)
		}
	}
	row("ID", fmt.Sprint(m.ID))
	row("Title", m.Title)
	row("Category", m.Category)
	row("Type", string(m.Kind()))
	row("Description", m.Description)
	if f, ok := m.File(); ok {
		row("File", f.FileName)
		row("Size", f.FileSize)
		row("MIME type", f.FileType)
	}
	if l, ok := m.Link(); ok {
		row("Link", l.URL)
	}
	row("Created", m.CreatedAt)
}

// reportRestore prints the outcome of an import or pull. Partial failure is
// returned as an error so the exit code reflects it.
func reportRestore(res backup.RestoreResult) error {
	if res.Declined {
		printWarning("Restore cancelled, library unchanged")
		return nil
	}
	for _, f := range res.Failed {
		label := f.Title
		if label == "" {
			label = fmt.Sprintf("record %d", f.Index)
		}
		printError("%s: %s", label, f.Message)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("restored %d of %d materials", res.Restored, res.Total)
	}
	printSuccess("Restored %d of %d materials", res.Restored, res.Total)
	return nil
}
