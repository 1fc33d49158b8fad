package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: данные в stdout, сообщения в stderr.
// В режиме --json данные печатаются как есть, без таблиц.
type Output struct {
	jsonMode bool
	stdout   io.Writer
	stderr   io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

func NewOutputTo(jsonMode bool, stdout, stderr io.Writer) *Output {
	return &Output{jsonMode: jsonMode, stdout: stdout, stderr: stderr}
}

// Print выводит rows под заголовком header либо data в JSON.
func (o *Output) Print(header []string, rows [][]string, data any) {
	if o.jsonMode {
		enc := json.NewEncoder(o.stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(data)
		return
	}

	tw := tabwriter.NewWriter(o.stdout, 0, 0, 2, ' ', 0)
	writeRow(tw, header)
	for _, row := range rows {
		writeRow(tw, row)
	}
	_ = tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}

// Success — сообщение для человека; в stdout не попадает, чтобы не ломать --json.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.stderr, msg)
}

// Text печатает s, дописывая перевод строки при необходимости.
func (o *Output) Text(s string) {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	fmt.Fprint(o.stdout, s)
}
