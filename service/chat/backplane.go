package chat

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"PPHub/global"
	"PPHub/tools/errs"
)

// Broadcast is one hub-wide invocation travelling between replicas.
type Broadcast struct {
	Origin string    `json:"origin"` // node that accepted the invocation
	Target string    `json:"target"`
	Args   []any     `json:"args"`
	At     time.Time `json:"at"`
}

func encodeBroadcast(b Broadcast) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, errs.ErrProtocol.WrapErr(err)
	}
	return data, nil
}

func decodeBroadcast(data []byte) (Broadcast, error) {
	var b Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		return b, errs.ErrProtocol.WrapErr(err)
	}
	if b.Target == "" {
		return b, errs.ErrProtocol.WrapMsg("broadcast without target")
	}
	if b.Args == nil {
		b.Args = []any{}
	}
	return b, nil
}

// Backplane carries broadcasts between hub replicas. Every subscriber,
// the publishing replica included, receives every broadcast, in the same
// order on every replica.
type Backplane interface {
	Publish(ctx context.Context, b Broadcast) error
	// Subscribe registers fn until ctx ends. fn is never called concurrently
	// with itself.
	Subscribe(ctx context.Context, fn func(Broadcast)) error
	Close() error
}

// NewBackplane builds the backplane named by conf.Backplane.
func NewBackplane(ctx context.Context, conf global.ServerConfig) (Backplane, error) {
	switch conf.Backplane {
	case "", global.BackplaneMemory:
		return NewMemoryBackplane(), nil
	case global.BackplaneRedis:
		return DialRedisBackplane(ctx, conf)
	case global.BackplaneNats:
		return DialNatsBackplane(conf)
	case global.BackplaneKafka:
		return DialKafkaBackplane(conf)
	}
	return nil, errs.New("unknown backplane", "backplane", conf.Backplane)
}

// MemoryBackplane delivers broadcasts in-process. Hubs sharing one
// instance behave like replicas behind a real backplane.
type MemoryBackplane struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Broadcast)
	closed bool
}

func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{subs: make(map[int]func(Broadcast))}
}

// Publish calls every subscriber before returning. Concurrent publishes
// are delivered one at a time.
func (m *MemoryBackplane) Publish(ctx context.Context, b Broadcast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.New("backplane closed")
	}
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m.subs[id](b)
	}
	return nil
}

func (m *MemoryBackplane) Subscribe(ctx context.Context, fn func(Broadcast)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.New("backplane closed")
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryBackplane) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = map[int]func(Broadcast){}
	return nil
}
