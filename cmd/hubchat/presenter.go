package main

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// terminalPresenter prints status and message lines. The core calls it from
// the ui executor only; the repl writes through Notice from its own goroutine.
type terminalPresenter struct {
	w io.Writer
	p termenv.Profile
}

func newTerminalPresenter(w io.Writer, p termenv.Profile) *terminalPresenter {
	return &terminalPresenter{w: w, p: p}
}

func (t *terminalPresenter) OnStatus(text string) {
	fmt.Fprintln(t.w, t.p.String("-- "+text+" --").Foreground(t.p.Color("#818cf8")))
}

// OnMessageReceived prints the line verbatim. The sender cannot be told
// apart from the body once formatted, so the line is not restyled.
func (t *terminalPresenter) OnMessageReceived(line string) {
	fmt.Fprintln(t.w, line)
}

// Notice prints a local hint that did not come from the hub.
func (t *terminalPresenter) Notice(text string) {
	fmt.Fprintln(t.w, t.p.String(text).Faint())
}
