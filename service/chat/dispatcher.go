package chat

import (
	"sync"

	"PPHub/tools/errs"
)

// Dispatcher routes invocations to handlers by hub method name.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Target()] = h
}

func (d *Dispatcher) GetHandler(target string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[target]
}

func (d *Dispatcher) Dispatch(ctx *Context, conn *WsConn, target string, args []any) error {
	h := d.GetHandler(target)
	if h == nil {
		return errs.New("method does not exist", "target", target)
	}
	return h.Handle(ctx, conn, args)
}
