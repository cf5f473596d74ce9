// Package output formats reposync command output for terminals and pipes.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// Writer provides formatted output for CLI commands.
// Icons and color are only used when the destination is a terminal.
type Writer struct {
	out        io.Writer
	decorative bool
}

// New creates a Writer that decorates output when out is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:        out,
		decorative: IsTTY(out) && !DetectNoColor(),
	}
}

// NewPlain creates a Writer that never decorates output.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Decorative reports whether icons and color are enabled.
func (w *Writer) Decorative() bool {
	return w.decorative
}

// Status prints a message prefixed by an icon on terminals.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if w.decorative && icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintln(w.out, msg)
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.paint(colorGreen, "✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.paint(colorYellow, "!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.paint(colorRed, "✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Table prints rows under a header as aligned columns.
func (w *Writer) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	if len(header) > 0 {
		_, _ = fmt.Fprintln(tw, w.paint(colorDim, strings.Join(header, "\t")))
	}
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// Fields prints key/value pairs sorted by key.
func (w *Writer) Fields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k + ":", fields[k]})
	}
	w.Table(nil, rows)
}

// Progress prints a progress bar with message. On terminals the line is rewritten in place.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	if !w.decorative {
		_, _ = fmt.Fprintf(w.out, "[%d/%d] %s\n", current, total, msg)
		return
	}

	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) paint(color, s string) string {
	if !w.decorative {
		return s
	}
	return color + s + colorReset
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	filled = min(max(filled, 0), width)

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
