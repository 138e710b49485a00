package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"mesosweep/internal/model"
)

// progressPrinter renders engine progress events. On a terminal it redraws
// a single status line; otherwise it prints one line per finished outer
// line so logs stay readable.
type progressPrinter struct {
	w   io.Writer
	tty bool
}

func newProgressPrinter(f *os.File) *progressPrinter {
	return &progressPrinter{
		w:   f,
		tty: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (p *progressPrinter) Update(ev model.ProgressEvent) {
	if ev.Direction == model.DirectionReturn {
		if p.tty {
			fmt.Fprintf(p.w, "\r\033[Kline %d/%d returning", ev.Outer+1, ev.Outers)
		}
		return
	}
	line := formatProgress(ev)
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		return
	}
	if ev.Index+1 == ev.Total {
		fmt.Fprintln(p.w, line)
	}
}

// Done ends the redrawn status line.
func (p *progressPrinter) Done() {
	if p.tty {
		fmt.Fprintln(p.w)
	}
}

func formatProgress(ev model.ProgressEvent) string {
	point := fmt.Sprintf("point %s/%s", humanize.Comma(int64(ev.Index+1)), humanize.Comma(int64(ev.Total)))
	if ev.Outers > 1 {
		return fmt.Sprintf("%s line %d/%d %s %v", ev.Direction, ev.Outer+1, ev.Outers, point, ev.Setpoints)
	}
	return fmt.Sprintf("%s %v", point, ev.Setpoints)
}
