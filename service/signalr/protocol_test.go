package signalr

import (
	"errors"
	"testing"

	"PPHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHandshakeRequest(t *testing.T) {
	assert.Equal(t, "{\"protocol\":\"json\",\"version\":1}\x1e", string(EncodeHandshakeRequest()))
}

func TestEncodeInvocation(t *testing.T) {
	b, err := Encode(NewInvocation("SendMessage", "Alice", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":1,\"target\":\"SendMessage\",\"arguments\":[\"Alice\",\"hi\"]}\x1e", string(b))

	b, err = Encode(NewPing())
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":6}\x1e", string(b))
}

func TestSplit(t *testing.T) {
	recs, err := Split([]byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"x\"}\x1e"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, `{"type":6}`, string(recs[0]))

	recs, err = Split([]byte("{\"type\":6}\x1e{\"type\""))
	assert.Len(t, recs, 1)
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	recs, err = Split(nil)
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage([]byte(`{"type":1,"target":"ReceiveMessage","arguments":["Bob","hello"]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeInvocation, m.Type)
	assert.Equal(t, "ReceiveMessage", m.Target)
	assert.Equal(t, []any{"Bob", "hello"}, m.Arguments)

	m, err = ParseMessage([]byte(`{"type":7,"error":"server shutting down","allowReconnect":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypeClose, m.Type)
	assert.Equal(t, "server shutting down", m.Error)
	assert.True(t, m.AllowReconnect)

	_, err = ParseMessage([]byte(`{"target":"x"}`))
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	_, err = ParseMessage([]byte(`not json`))
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}

func TestParseHandshakeResponse(t *testing.T) {
	resp, rest, err := ParseHandshakeResponse([]byte("{}\x1e{\"type\":6}\x1e"))
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "{\"type\":6}\x1e", string(rest))

	resp, _, err = ParseHandshakeResponse([]byte("{\"error\":\"Requested protocol 'xml' is not available.\"}\x1e"))
	require.NoError(t, err)
	assert.Equal(t, "Requested protocol 'xml' is not available.", resp.Error)

	_, _, err = ParseHandshakeResponse([]byte("{}"))
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}

func TestParseHandshakeRequest(t *testing.T) {
	req, rest, err := ParseHandshakeRequest(EncodeHandshakeRequest())
	require.NoError(t, err)
	assert.Equal(t, ProtocolName, req.Protocol)
	assert.Empty(t, rest)

	_, _, err = ParseHandshakeRequest([]byte("{\"protocol\":\"messagepack\",\"version\":1}\x1e"))
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	_, _, err = ParseHandshakeRequest([]byte("{\"protocol\":\"json\",\"version\":2}\x1e"))
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}
