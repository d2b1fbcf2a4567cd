package model

import (
	"strings"
	"time"
)

const (
	// DefaultSender replaces a blank sender name.
	DefaultSender = "Anonymous"

	ReceiveMessageTarget = "ReceiveMessage" // hub -> client
	SendMessageTarget    = "SendMessage"    // client -> hub
)

// ChatMessage is one received message. It is not modified after construction.
type ChatMessage struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func NewChatMessage(sender, body string, at time.Time) ChatMessage {
	return ChatMessage{Sender: sender, Body: body, ReceivedAt: at}
}

// Line formats the display line "<sender>: <body>".
func (m ChatMessage) Line() string {
	return m.Sender + ": " + m.Body
}

// OutboundRequest is one message to send. It is consumed once and never retried.
type OutboundRequest struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// Normalize trims the body and defaults a blank sender. ok is false when
// the body is blank; such a request must not be sent.
func (r OutboundRequest) Normalize() (OutboundRequest, bool) {
	body := strings.TrimSpace(r.Body)
	if body == "" {
		return OutboundRequest{}, false
	}
	sender := strings.TrimSpace(r.Sender)
	if sender == "" {
		sender = DefaultSender
	}
	return OutboundRequest{Sender: sender, Body: body}, true
}

// Args returns the hub invocation arguments in (sender, body) order.
func (r OutboundRequest) Args() []any {
	return []any{r.Sender, r.Body}
}
