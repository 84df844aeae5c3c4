package diagfmt

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"

	"lowerc/internal/diag"
	"lowerc/internal/source"
)

type palette struct {
	err, warn, info, code, loc, note *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		info: color.New(color.FgCyan, color.Bold),
		code: color.New(color.FgHiBlack),
		loc:  color.New(color.Bold),
		note: color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.info, p.code, p.loc, p.note} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	default:
		return p.info
	}
}

// Pretty форматирует диагностики в человекочитаемый вид.
// Идёт по bag.Items() (ожидается bag.Sort() заранее).
// Для каждого diag печатает:
// <path>:<line>:<col>: <SEV> <CODE>: <Message>
// затем Notes с отступом.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	if bag == nil {
		return
	}
	p := newPalette(opts.Color)
	items := bag.Items()
	if opts.Max > 0 && opts.Max < len(items) {
		items = items[:opts.Max]
	}
	for _, d := range items {
		fmt.Fprintf(w, "%s: %s %s: %s\n",
			p.loc.Sprint(location(fs, d.Primary, opts.PathMode, opts.BaseDir)),
			p.severity(d.Severity).Sprint(severityLabel(d.Severity)),
			p.code.Sprint(d.Code.ID()),
			d.Message,
		)
		if !opts.ShowNotes && d.Code != diag.ObsTimings {
			continue
		}
		for _, n := range d.Notes {
			if n.Pos.IsValid() {
				fmt.Fprintf(w, "  %s %s: %s\n", p.note.Sprint("note:"), location(fs, n.Pos, opts.PathMode, opts.BaseDir), n.Msg)
				continue
			}
			fmt.Fprintf(w, "  %s %s\n", p.note.Sprint("note:"), n.Msg)
		}
	}
	if hidden := bag.Len() - len(items); hidden > 0 {
		fmt.Fprintf(w, "... and %d more\n", hidden)
	}
}

func severityLabel(s diag.Severity) string {
	switch s {
	case diag.SevError:
		return "ERROR"
	case diag.SevWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
