package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_DeliversInOrder(t *testing.T) {
	f := NewFanout(8, nil)
	defer f.Close()

	a := newWsConn("a", "", nil, 16, time.Now(), time.Minute)
	b := newWsConn("b", "", nil, 16, time.Now(), time.Minute)
	conns := []*WsConn{a, b}
	for _, p := range []string{"1", "2", "3"} {
		require.True(t, f.Broadcast(conns, []byte(p)))
	}

	for _, w := range conns {
		for _, want := range []string{"1", "2", "3"} {
			select {
			case got := <-w.SendChan:
				assert.Equal(t, want, string(got))
			case <-time.After(time.Second):
				t.Fatalf("%s: timed out waiting for %s", w.SnowID, want)
			}
		}
	}
}

func TestFanout_DropsSlowConsumer(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []string
	)
	f := NewFanout(8, func(w *WsConn) {
		mu.Lock()
		dropped = append(dropped, w.SnowID)
		mu.Unlock()
	})
	defer f.Close()

	slow := newWsConn("slow", "", nil, 1, time.Now(), time.Minute)
	fast := newWsConn("fast", "", nil, 8, time.Now(), time.Minute)
	conns := []*WsConn{slow, fast}
	require.True(t, f.Broadcast(conns, []byte("1")))
	require.True(t, f.Broadcast(conns, []byte("2")))

	require.Eventually(t, func() bool { return len(fast.SendChan) == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"slow"}, dropped)
	mu.Unlock()
	assert.Equal(t, "1", string(<-slow.SendChan))
}

func TestFanout_Closed(t *testing.T) {
	f := NewFanout(1, nil)
	f.Close()
	f.Close()
	w := newWsConn("a", "", nil, 1, time.Now(), time.Minute)
	assert.False(t, f.Broadcast([]*WsConn{w}, []byte("x")))
	assert.True(t, f.Broadcast(nil, []byte("x")), "nothing to do is not a failure")
}
