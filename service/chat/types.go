package chat

import "context"

// Handler serves one hub method. args are the raw JSON-decoded arguments
// of the invocation.
type Handler interface {
	Target() string
	Handle(ctx *Context, conn *WsConn, args []any) error
}

// Context is handed to every handler invocation.
type Context struct {
	context.Context
	S *Server
}
