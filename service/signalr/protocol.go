// Package signalr implements the JSON hub protocol spoken by SignalR hubs:
// record framing, the handshake and the hub message envelope.
package signalr

import (
	"bytes"
	"encoding/json"

	"PPHub/tools/errs"
)

const (
	RecordSeparator byte = 0x1e

	ProtocolName    = "json"
	ProtocolVersion = 1
)

type MessageType int

const (
	TypeInvocation       MessageType = 1
	TypeStreamItem       MessageType = 2
	TypeCompletion       MessageType = 3
	TypeStreamInvocation MessageType = 4
	TypeCancelInvocation MessageType = 5
	TypePing             MessageType = 6
	TypeClose            MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeInvocation:
		return "invocation"
	case TypeStreamItem:
		return "stream_item"
	case TypeCompletion:
		return "completion"
	case TypeStreamInvocation:
		return "stream_invocation"
	case TypeCancelInvocation:
		return "cancel_invocation"
	case TypePing:
		return "ping"
	case TypeClose:
		return "close"
	}
	return "unknown"
}

type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is the envelope shared by every hub message; which fields are
// set depends on Type.
type Message struct {
	Type           MessageType       `json:"type"`
	Headers        map[string]string `json:"headers,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []any             `json:"arguments,omitempty"`
	StreamIDs      []string          `json:"streamIds,omitempty"`
	Item           any               `json:"item,omitempty"`
	Result         any               `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// NewInvocation builds a non-blocking invocation (no invocation id, no completion expected).
func NewInvocation(target string, args ...any) Message {
	if args == nil {
		args = []any{}
	}
	return Message{Type: TypeInvocation, Target: target, Arguments: args}
}

func NewPing() Message { return Message{Type: TypePing} }

func NewClose(reason string, allowReconnect bool) Message {
	return Message{Type: TypeClose, Error: reason, AllowReconnect: allowReconnect}
}

// Encode serializes v as one record, separator included.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.ErrProtocol.WrapErr(err)
	}
	return append(b, RecordSeparator), nil
}

func EncodeHandshakeRequest() []byte {
	b, _ := Encode(HandshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion})
	return b
}

// Split cuts data into records. Every record must be terminated; a
// trailing fragment is a protocol error.
func Split(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			return out, errs.ErrProtocol.WrapMsg("unterminated record", "len", len(data))
		}
		if i > 0 {
			out = append(out, data[:i])
		}
		data = data[i+1:]
	}
	return out, nil
}

// ParseMessage decodes one record (without separator).
func ParseMessage(record []byte) (*Message, error) {
	var probe struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(record, &probe); err != nil {
		return nil, errs.ErrProtocol.WrapErr(err)
	}
	if probe.Type == nil {
		return nil, errs.ErrProtocol.WrapMsg("message without type")
	}
	var m Message
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, errs.ErrProtocol.WrapErr(err)
	}
	return &m, nil
}

// ParseHandshakeResponse reads the handshake response at the head of data
// and returns whatever records followed it in the same frame.
func ParseHandshakeResponse(data []byte) (*HandshakeResponse, []byte, error) {
	i := bytes.IndexByte(data, RecordSeparator)
	if i < 0 {
		return nil, nil, errs.ErrProtocol.WrapMsg("unterminated handshake response")
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(data[:i], &resp); err != nil {
		return nil, nil, errs.ErrProtocol.WrapErr(err)
	}
	return &resp, data[i+1:], nil
}

// ParseHandshakeRequest is the server side of the handshake. It accepts
// only the JSON protocol, version 1.
func ParseHandshakeRequest(data []byte) (*HandshakeRequest, []byte, error) {
	i := bytes.IndexByte(data, RecordSeparator)
	if i < 0 {
		return nil, nil, errs.ErrProtocol.WrapMsg("unterminated handshake request")
	}
	var req HandshakeRequest
	if err := json.Unmarshal(data[:i], &req); err != nil {
		return nil, nil, errs.ErrProtocol.WrapErr(err)
	}
	if req.Protocol != ProtocolName {
		return &req, nil, errs.ErrProtocol.WrapMsg("unsupported protocol", "protocol", req.Protocol)
	}
	if req.Version != ProtocolVersion {
		return &req, nil, errs.ErrProtocol.WrapMsg("unsupported protocol version", "version", req.Version)
	}
	return &req, data[i+1:], nil
}
