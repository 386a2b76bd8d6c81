package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/mikeboe/deep-research/pkg/research"
)

// progressPrinter renders orchestrator events as colored terminal lines.
type progressPrinter struct {
	out io.Writer

	phase  func(a ...interface{}) string
	round  func(a ...interface{}) string
	done   func(a ...interface{}) string
	detail func(a ...interface{}) string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:    out,
		phase:  color.New(color.FgCyan, color.Bold).SprintFunc(),
		round:  color.New(color.FgYellow).SprintFunc(),
		done:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		detail: color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (p *progressPrinter) OnEvent(e research.Event) {
	label := fmt.Sprintf("%-12s", strings.ToUpper(string(e.Phase)))
	switch e.Phase {
	case research.PhaseDone:
		fmt.Fprintf(p.out, "%s %s\n", p.done(label), e.Message)
		return
	case research.PhaseInit, research.PhaseSynthesizing:
		fmt.Fprintf(p.out, "%s %s\n", p.phase(label), e.Message)
		return
	}
	fmt.Fprintf(p.out, "%s %s %s %s\n",
		p.phase(label),
		p.round(fmt.Sprintf("[%d/%d]", e.Round, e.MaxRounds)),
		e.Message,
		p.detail(fmt.Sprintf("(queries=%d results=%d sources=%d)", e.Queries, e.Results, e.Sources)),
	)
}
