package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/linker"
)

type styles struct {
	errLabel lipgloss.Style
	note     lipgloss.Style
	symbol   lipgloss.Style
	ok       lipgloss.Style
}

// newStyles returns colored styles for terminals and plain ones otherwise.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{errLabel: plain, note: plain, symbol: plain, ok: plain}
	}
	return styles{
		errLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		note:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		symbol:   lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printDiagnostics writes every error contained in err. Undefined symbols
// are grouped by the input that referenced them.
func printDiagnostics(w io.Writer, st styles, err error) {
	errs := errors.Flatten(err)
	if len(errs) == 0 {
		fmt.Fprintf(w, "%s %v\n", st.errLabel.Render("error:"), err)
		return
	}

	if u := errors.CollectUndefined(errs); u != nil {
		lines := strings.Split(u.Error(), "\n")
		fmt.Fprintf(w, "%s %s\n", st.errLabel.Render("error:"), lines[0])
		for _, line := range lines[1:] {
			if name, ok := strings.CutPrefix(line, "    - "); ok {
				line = "    - " + st.symbol.Render(name)
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, e := range errs {
		if e.Kind == errors.KindUndefinedSymbol {
			continue
		}
		head := *e
		head.Notes = nil
		fmt.Fprintf(w, "%s %s\n", st.errLabel.Render("error:"), head.Error())
		for _, n := range e.Notes {
			fmt.Fprintf(w, "  %s\n", st.note.Render("note: "+n))
		}
	}
	if len(errs) > 1 {
		fmt.Fprintf(w, "%d errors\n", len(errs))
	}
}

// summary is the one-line report after a successful link.
func (st styles) summary(output string, m *linker.Map) string {
	return fmt.Sprintf("%s %s (%s, %d functions, %d globals, %d data segments)",
		st.ok.Render("wrote"), output, humanize.IBytes(uint64(m.Size)),
		len(m.Functions), len(m.Globals), len(m.Segments))
}
