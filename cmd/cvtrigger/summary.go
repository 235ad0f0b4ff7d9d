package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sznuper/cvtrigger/internal/runner"
)

type summaryStyles struct {
	ok, fail, dim lipgloss.Style
}

func newSummaryStyles(w io.Writer) summaryStyles {
	r := lipgloss.NewRenderer(w)
	return summaryStyles{
		ok:   r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:  r.NewStyle().Faint(true),
	}
}

// printSummary writes a short human-readable account of one cycle.
func printSummary(w io.Writer, s summaryStyles, r runner.CycleResult) {
	id := shortID(r.ID)
	took := r.Duration.Round(time.Millisecond)

	if r.Err != nil {
		fmt.Fprintf(w, "%s Cycle %s failed in %s %s\n", s.fail.Render("✗"), id, r.Stage, s.dim.Render(took.String()))
		fmt.Fprintf(w, "  Error (%s): %s\n", r.Kind().Code(), r.Err)
		return
	}

	verdict := s.fail.Render("FAIL")
	if r.Document.Pass() {
		verdict = s.ok.Render("PASS")
	}
	fmt.Fprintf(w, "%s Cycle %s program %d: %s %s\n", s.ok.Render("✓"), id, r.Program, verdict, s.dim.Render(took.String()))

	if len(r.Notified) > 0 {
		label := "Notified"
		if r.DryRun {
			label = "Would notify"
		}
		fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(r.Notified, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
