package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"PPHub/module/chat/model"
	"PPHub/tools/safe"
)

// screen is what the line loop needs from the chat core.
type screen interface {
	SendMessage(sender, body string)
	Retry() error
}

type notifier interface {
	Notice(text string)
}

type repl struct {
	screen screen
	out    notifier
	user   string
}

func newRepl(sc screen, out notifier, user string) *repl {
	return &repl{screen: sc, out: out, user: user}
}

// run reads in line by line until /quit, EOF or ctx ends.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	safe.SafeGo(func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if !r.handle(line) {
				return nil
			}
		}
	}
}

// handle runs one line; false ends the loop.
func (r *repl) handle(line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/retry":
		if err := r.screen.Retry(); err != nil {
			r.out.Notice("retry: " + err.Error())
		}
	case "/user":
		r.user = strings.TrimSpace(arg)
		r.out.Notice("sending as " + safe.DefaultString(r.user, model.DefaultSender))
	default:
		r.screen.SendMessage(r.user, line)
	}
	return true
}
