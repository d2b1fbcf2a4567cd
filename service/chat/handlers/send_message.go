package handlers

import (
	"PPHub/module/chat/model"
	"PPHub/service/chat"
	"PPHub/tools/decode"
	"PPHub/tools/errs"
)

// SendMessageHandler relays SendMessage(user, message) to every client as
// ReceiveMessage(user, message). Blank messages are refused.
type SendMessageHandler struct{}

func NewSendMessageHandler() chat.Handler { return &SendMessageHandler{} }

func (h *SendMessageHandler) Target() string { return model.SendMessageTarget }

func (h *SendMessageHandler) Handle(ctx *chat.Context, _ *chat.WsConn, args []any) error {
	var req model.OutboundRequest
	if err := decode.DecodeArgs(args, &req.Sender, &req.Body); err != nil {
		return errs.ErrProtocol.WrapErr(err)
	}
	req, ok := req.Normalize()
	if !ok {
		return errs.ErrProtocol.WrapMsg("message is blank")
	}
	return ctx.S.Broadcast(ctx, model.ReceiveMessageTarget, req.Args()...)
}

// Register installs the chat hub methods on s.
func Register(s *chat.Server) {
	s.Disp().Register(NewSendMessageHandler())
}
