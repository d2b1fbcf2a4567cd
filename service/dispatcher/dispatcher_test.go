package dispatcher

import (
	"context"
	"testing"
	"time"

	"PPHub/mocks"
	"PPHub/service/session"
	"PPHub/tools/errs"
	"PPHub/tools/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newInline(t *testing.T) (*Dispatcher, *mocks.MockSender, *mocks.MockPresenter) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	presenter := mocks.NewMockPresenter(ctrl)
	d := New(sender, presenter, executor.Inline{}, WithBackground(executor.Inline{}))
	t.Cleanup(d.Close)
	return d, sender, presenter
}

func flush(t *testing.T, s *executor.Serial) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestSendMessage(t *testing.T) {
	t.Run("blank body never reaches the transport", func(t *testing.T) {
		d, sender, _ := newInline(t)
		sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		d.SendMessage("Alice", "")
		d.SendMessage("Alice", "   ")
		d.SendMessage("", "\t\n")
	})

	t.Run("sends exactly once with sender and body", func(t *testing.T) {
		d, sender, _ := newInline(t)
		sender.EXPECT().Send(gomock.Any(), "SendMessage", "Alice", "hi").Return(nil).Times(1)

		d.SendMessage("Alice", "hi")
	})

	t.Run("blank sender becomes Anonymous and body is trimmed", func(t *testing.T) {
		d, sender, _ := newInline(t)
		sender.EXPECT().Send(gomock.Any(), "SendMessage", "Anonymous", "hi").Return(nil).Times(1)

		d.SendMessage("  ", " hi ")
	})

	t.Run("not connected becomes a status line", func(t *testing.T) {
		d, sender, presenter := newInline(t)
		sender.EXPECT().Send(gomock.Any(), "SendMessage", "Alice", "hi").Return(errs.ErrNotConnected.Wrap())
		presenter.EXPECT().OnStatus(StatusNotConnected).Times(1)

		d.SendMessage("Alice", "hi")
	})

	t.Run("other failures are reported with their reason", func(t *testing.T) {
		d, sender, presenter := newInline(t)
		sender.EXPECT().Send(gomock.Any(), "SendMessage", "Alice", "hi").
			Return(errs.ErrTransportDropped.WrapMsg("write: broken pipe"))
		presenter.EXPECT().OnStatus("Send failed: write: broken pipe").Times(1)

		d.SendMessage("Alice", "hi")
	})
}

func TestSendWhileSessionNotConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Times(0)
	presenter := mocks.NewMockPresenter(ctrl)
	presenter.EXPECT().OnStatus(StatusNotConnected).Times(3)

	s := session.New("wss://test/chatHub", dialer)
	var seen []session.Transition
	s.OnStateChange(func(tr session.Transition) { seen = append(seen, tr) })

	d := New(s, presenter, executor.Inline{}, WithBackground(executor.Inline{}))
	defer d.Close()

	for i := 0; i < 3; i++ {
		d.SendMessage("Alice", "hi")
	}
	assert.Equal(t, session.Disconnected, s.State())
	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, seen)
}

func TestInboundMessagesKeepArrivalOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	presenter := mocks.NewMockPresenter(ctrl)
	ui := executor.NewSerial("ui")
	defer ui.Close()

	lines := []string{"a: 1", "b: 2", "c: 3", "d: 4", "e: 5"}
	calls := make([]any, 0, len(lines))
	for _, l := range lines {
		calls = append(calls, presenter.EXPECT().OnMessageReceived(l).Times(1))
	}
	gomock.InOrder(calls...)

	d := New(mocks.NewMockSender(ctrl), presenter, ui)
	defer d.Close()
	for _, pair := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"}} {
		d.OnMessageReceived(pair[0], pair[1])
	}
	flush(t, ui)
}

func TestOnStatusChange(t *testing.T) {
	d, _, presenter := newInline(t)
	gomock.InOrder(
		presenter.EXPECT().OnStatus("Connecting to hub"),
		presenter.EXPECT().OnStatus("Connection failed: connection refused"),
		presenter.EXPECT().OnStatus("Connecting to hub"),
		presenter.EXPECT().OnStatus("Connected to hub"),
		presenter.EXPECT().OnStatus("Connection lost: server timeout"),
		presenter.EXPECT().OnStatus("Disconnected"),
	)

	for _, tr := range []session.Transition{
		{From: session.Disconnected, To: session.Connecting},
		{From: session.Connecting, To: session.Failed, Reason: "connection refused"},
		{From: session.Failed, To: session.Connecting},
		{From: session.Connecting, To: session.Connected},
		{From: session.Connected, To: session.Failed, Reason: "server timeout"},
		{From: session.Failed, To: session.Disconnected},
	} {
		d.OnStatusChange(tr)
	}
}

func TestStatusLine(t *testing.T) {
	line, ok := StatusLine(session.Transition{From: session.Connecting, To: session.Failed})
	assert.True(t, ok)
	assert.Equal(t, "Connection failed: unknown error", line)

	_, ok = StatusLine(session.Transition{To: session.State(42)})
	assert.False(t, ok)
}

func TestCloseSilencesQueuedCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	presenter := mocks.NewMockPresenter(ctrl)
	ui := executor.NewSerial("ui")
	defer ui.Close()

	gate := make(chan struct{})
	require.True(t, ui.Post(func() { <-gate }))

	d := New(mocks.NewMockSender(ctrl), presenter, ui)
	d.OnMessageReceived("Bob", "hello")
	d.OnStatusChange(session.Transition{From: session.Connecting, To: session.Connected})
	d.Close()
	close(gate)
	flush(t, ui)
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	d := New(sender, mocks.NewMockPresenter(ctrl), executor.Inline{})
	d.Close()
	d.SendMessage("Alice", "hi")
}
