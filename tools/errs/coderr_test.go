package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeErrorMatchesByCode(t *testing.T) {
	err := ErrNotConnected.WrapMsg("send", "target", "SendMessage")
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.False(t, errors.Is(err, ErrHandshake))
	assert.Equal(t, NotConnectedError, Code(err))
	assert.Equal(t, "send, target=SendMessage", Reason(err))
	assert.Equal(t, "1002 not connected to hub send, target=SendMessage", err.Error())
}

func TestWrapErrKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrHandshake.WrapErr(cause)
	assert.True(t, errors.Is(err, ErrHandshake))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "connection refused", Reason(err))
	assert.Nil(t, ErrHandshake.WrapErr(nil))

	wrapped := fmt.Errorf("dial: %w", err)
	assert.Equal(t, HandshakeError, Code(wrapped))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "plain", Reason(errors.New("plain")))
	assert.Equal(t, "session closed", Reason(ErrSessionClosed.Wrap()))
	assert.Equal(t, 0, Code(errors.New("plain")))
}

func TestSentinelsAreNotMutated(t *testing.T) {
	_ = ErrProtocol.WrapMsg("bad frame")
	assert.Empty(t, ErrProtocol.Detail)
}

func TestPanicError(t *testing.T) {
	err := ErrPanic("boom")
	assert.Equal(t, ServerInternalError, Code(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestToString(t *testing.T) {
	assert.Equal(t, "msg, a=1, b=MISSING", toString("msg", []any{"a", 1, "b"}))
	assert.Equal(t, "msg", New("msg").Error())
	assert.Nil(t, Wrap(nil))
	assert.Nil(t, WrapMsg(nil, "x"))
}
