package config

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	content  string
	getErr   error
	listener func(namespace, group, dataId, data string)
	canceled bool
}

func (f *fakeSource) GetConfig(p vo.ConfigParam) (string, error) {
	return f.content, f.getErr
}

func (f *fakeSource) ListenConfig(p vo.ConfigParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = p.OnChange
	return nil
}

func (f *fakeSource) CancelListenConfig(p vo.ConfigParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
	return nil
}

func (f *fakeSource) push(data string) bool {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		return false
	}
	l("", "DEFAULT_GROUP", "pphub.yaml", data)
	return true
}

func TestWatcherFetch(t *testing.T) {
	src := &fakeSource{content: "log:\n  level: debug\n"}
	w := NewWatcher(src, "pphub.yaml", "DEFAULT_GROUP")

	got, err := w.Fetch()
	require.NoError(t, err)
	assert.Equal(t, src.content, got)
	assert.Equal(t, src.content, w.Current())

	src.getErr = errors.New("boom")
	_, err = w.Fetch()
	assert.Error(t, err)
}

func TestWatcherWatch(t *testing.T) {
	src := &fakeSource{}
	w := NewWatcher(src, "pphub.yaml", "DEFAULT_GROUP")
	ctx, cancel := context.WithCancel(context.Background())

	changes := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(s string) { changes <- s }) }()

	require.Eventually(t, func() bool { return src.push("v2") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v2", <-changes)
	assert.Equal(t, "v2", w.Current())

	cancel()
	require.NoError(t, <-done)
	src.mu.Lock()
	assert.True(t, src.canceled)
	src.mu.Unlock()
}
