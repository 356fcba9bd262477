// Package progress renders synthesis progress to an operator-facing side
// channel. It observes the pipeline and never influences it.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Reporter receives progress notifications from the orchestrator. Every
// implementation must be cheap and non-blocking.
type Reporter interface {
	Begin(total int)
	Step(stage string)
	Finish()
}

// Nop discards all progress.
type Nop struct{}

func (Nop) Begin(int)   {}
func (Nop) Step(string) {}
func (Nop) Finish()     {}

const (
	barWidth     = 20
	drawInterval = 50 * time.Millisecond
)

// Console renders a single redrawn progress bar on interactive outputs and
// one line per step otherwise.
type Console struct {
	mu          sync.Mutex
	w           io.Writer
	tty         bool
	total       int
	done        int
	lastPercent int
	lastDraw    time.Time
	now         func() time.Time
}

// NewConsole reports to w, redrawing in place when w is a terminal.
func NewConsole(w io.Writer) *Console {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Console{w: w, tty: tty, lastPercent: -1, now: time.Now}
}

func (c *Console) Begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = total
	c.done = 0
	c.lastPercent = -1
	c.lastDraw = time.Time{}
	c.draw("synthesizing")
}

func (c *Console) Step(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done < c.total {
		c.done++
	}
	c.draw(stage)
}

func (c *Console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = c.total
	c.lastDraw = time.Time{} // force the final frame
	c.draw("done")
	if c.tty {
		fmt.Fprintln(c.w)
	}
}

// draw assumes c.mu is held.
func (c *Console) draw(stage string) {
	if c.total <= 0 {
		return
	}
	percent := c.done * 100 / c.total

	if c.tty {
		// Redraw at most every 50ms, always on percentage change.
		if percent == c.lastPercent && c.now().Sub(c.lastDraw) < drawInterval {
			return
		}
		filled := percent * barWidth / 100
		bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
		fmt.Fprintf(c.w, "\r[%s] %3d%% %s (%d/%d)", bar, percent, stage, c.done, c.total)
	} else {
		// Line-per-step keeps non-interactive logs readable.
		if percent == c.lastPercent {
			return
		}
		fmt.Fprintf(c.w, "synthesis %3d%% %s (%d/%d)\n", percent, stage, c.done, c.total)
	}
	c.lastPercent = percent
	c.lastDraw = c.now()
}
