// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package termlog prints the handful of user-facing lines runlog emits
// on the terminal ("runlog: Started sync process with PID 1234").
//
// Everything else goes to the debug log. Messages go to the writer
// given to New, normally os.Stderr. The launch line is printed before
// the console is redirected and the shutdown lines after it is
// restored; anything printed in between is captured into the run's
// output like any other stderr write.
package termlog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes prefixed status lines.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
	warn   string
}

// New returns a Printer writing to out. Colors are used only when out
// is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Printer {
	renderer := lipgloss.NewRenderer(out)
	if !isTerminal(out) || os.Getenv("NO_COLOR") != "" {
		renderer.SetColorProfile(termenv.Ascii)
	}
	prefix := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	warn := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	return &Printer{
		out:    out,
		prefix: prefix.Render("runlog:"),
		warn:   warn.Render("runlog:"),
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Infof prints one status line.
func (p *Printer) Infof(format string, args ...any) {
	p.line(p.prefix, format, args...)
}

// Warnf prints one warning line.
func (p *Printer) Warnf(format string, args ...any) {
	p.line(p.warn, format, args...)
}

func (p *Printer) line(prefix, format string, args ...any) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}
