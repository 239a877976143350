// Package render draws upload snapshots on a terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"

	"github.com/lyallcooper/kitaabse/internal/progress"
	"github.com/lyallcooper/kitaabse/internal/types"
)

const barWidth = 40

// Renderer writes one line per snapshot. On a terminal the line is redrawn
// in place with a progress bar; otherwise a plain line is written whenever
// the text changes.
type Renderer struct {
	w        io.Writer
	terminal bool
	bar      bubblesprogress.Model
	last     string
	drawn    bool
}

// New creates a renderer. terminal selects in-place redrawing.
func New(w io.Writer, terminal bool) *Renderer {
	return &Renderer{
		w:        w,
		terminal: terminal,
		bar: bubblesprogress.New(
			bubblesprogress.WithDefaultGradient(),
			bubblesprogress.WithWidth(barWidth),
		),
	}
}

// Progress renders one snapshot
func (r *Renderer) Progress(p types.UploadProgress) error {
	text := Line(p)
	if r.terminal {
		view := r.bar.ViewAs(float64(p.Progress) / 100)
		_, err := fmt.Fprintf(r.w, "\r\033[K%s %s", view, text)
		r.drawn = true
		return err
	}

	line := fmt.Sprintf("[%3d%%] %s", p.Progress, text)
	if line == r.last {
		return nil
	}
	r.last = line
	_, err := fmt.Fprintln(r.w, line)
	return err
}

// Done ends an in-place line
func (r *Renderer) Done() {
	if r.terminal && r.drawn {
		fmt.Fprintln(r.w)
		r.drawn = false
	}
}

// Line is the text shown next to the bar
func Line(p types.UploadProgress) string {
	var b strings.Builder
	if p.Stage != nil && p.Stage.Name != "" {
		b.WriteString(p.Stage.Name)
		if p.Stage.Detail != "" {
			b.WriteString(" (" + p.Stage.Detail + ")")
		}
		b.WriteString(": ")
	}
	b.WriteString(p.Message)
	return b.String()
}

// Summary describes the audio statistics of a snapshot, or "" when it has none
func Summary(p types.UploadProgress) string {
	a := p.AudioStats
	if a == nil {
		return ""
	}
	s := fmt.Sprintf("Audio: %d generated, %d failed, %d skipped", a.Generated, a.Failed, a.Skipped)
	if d := a.Duration(); d > 0 {
		s += ", " + progress.FormatDuration(d) + " total"
	}
	return s
}
