package chat

import (
	"context"
	"testing"
	"time"

	"PPHub/global"
	"PPHub/service/kafka"
	"PPHub/service/natsx"
	"PPHub/service/storage/redis"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(body string) Broadcast {
	return Broadcast{
		Origin: "1",
		Target: "ReceiveMessage",
		Args:   []any{"Alice", body},
		At:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func recv(t *testing.T, ch <-chan Broadcast) Broadcast {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return Broadcast{}
	}
}

func TestBroadcastCodec(t *testing.T) {
	data, err := encodeBroadcast(sample("hi"))
	require.NoError(t, err)
	b, err := decodeBroadcast(data)
	require.NoError(t, err)
	assert.Equal(t, sample("hi"), b)

	_, err = decodeBroadcast([]byte("{"))
	require.Error(t, err)
	_, err = decodeBroadcast([]byte(`{"origin":"1"}`))
	require.Error(t, err)

	b, err = decodeBroadcast([]byte(`{"target":"Ping"}`))
	require.NoError(t, err)
	assert.Equal(t, []any{}, b.Args)
}

func TestMemoryBackplane(t *testing.T) {
	bp := NewMemoryBackplane()
	ctx := context.Background()

	first := make(chan Broadcast, 4)
	second := make(chan Broadcast, 4)
	subCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, bp.Subscribe(ctx, func(b Broadcast) { first <- b }))
	require.NoError(t, bp.Subscribe(subCtx, func(b Broadcast) { second <- b }))

	require.NoError(t, bp.Publish(ctx, sample("one")))
	assert.Equal(t, "one", recv(t, first).Args[1])
	assert.Equal(t, "one", recv(t, second).Args[1])

	cancel()
	require.Eventually(t, func() bool {
		bp.mu.Lock()
		defer bp.mu.Unlock()
		return len(bp.subs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bp.Publish(ctx, sample("two")))
	assert.Equal(t, "two", recv(t, first).Args[1])
	assert.Empty(t, second)

	require.NoError(t, bp.Close())
	require.Error(t, bp.Publish(ctx, sample("three")))
	require.Error(t, bp.Subscribe(ctx, func(Broadcast) {}))
}

func TestRedisBackplane(t *testing.T) {
	mr := miniredis.RunT(t)
	m := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	bp := NewRedisBackplane(m, "pphub.chatHub")
	defer bp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Broadcast, 4)
	require.NoError(t, bp.Subscribe(ctx, func(b Broadcast) { got <- b }))

	require.NoError(t, m.Publish(ctx, "pphub.chatHub", []byte("not json")))
	require.NoError(t, bp.Publish(ctx, sample("hi")))

	assert.Equal(t, sample("hi"), recv(t, got))
}

type fakeBus struct {
	routes   map[string]natsx.NatsxRoute
	handlers map[string]natsx.NatsxHandler
	headers  map[string]string
	closed   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{routes: map[string]natsx.NatsxRoute{}, handlers: map[string]natsx.NatsxHandler{}}
}

func (f *fakeBus) RegisterRoute(r natsx.NatsxRoute) error {
	f.routes[r.Biz] = r
	return nil
}

func (f *fakeBus) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	f.headers = hdr
	if h, ok := f.handlers[biz]; ok {
		return h(ctx, natsx.NatsxMessage{Subject: f.routes[biz].Subject, Data: data, Header: hdr})
	}
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, biz string, h natsx.NatsxHandler) error {
	f.handlers[biz] = h
	return nil
}

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

func TestNatsBackplane(t *testing.T) {
	bus := newFakeBus()
	bp, err := NewNatsBackplane(bus, "pphub.chatHub")
	require.NoError(t, err)
	assert.Equal(t, "pphub.chatHub", bus.routes[natsBiz].Subject)
	assert.Empty(t, bus.routes[natsBiz].Queue, "every replica must see every broadcast")

	ctx := context.Background()
	got := make(chan Broadcast, 1)
	require.NoError(t, bp.Subscribe(ctx, func(b Broadcast) { got <- b }))
	require.NoError(t, bp.Publish(ctx, sample("hi")))

	assert.Equal(t, sample("hi"), recv(t, got))
	assert.Equal(t, "1", bus.headers["Pphub-Origin"])

	require.Error(t, bus.handlers[natsBiz](ctx, natsx.NatsxMessage{Data: []byte("{")}))

	require.NoError(t, bp.Close())
	assert.True(t, bus.closed)
}

func TestKafkaBackplane(t *testing.T) {
	conf := global.Default().Server
	conf.Backplane = global.BackplaneKafka
	kc := kafkaConfig(conf)
	assert.Equal(t, "manual", kc.Partitioner)
	assert.Equal(t, conf.Channel, kc.Topic)

	cfg, err := kafka.BuildBaseConfig(kc)
	require.NoError(t, err)

	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		_, err := decodeBroadcast(val)
		return err
	})
	consumer := mocks.NewConsumer(t, cfg)
	pc := consumer.ExpectConsumePartition(kc.Topic, 0, sarama.OffsetNewest)

	router := kafka.NewHandlerRouter()
	bp := NewKafkaBackplane(kc.Topic, kafka.NewProducerFrom(sp), kafka.NewPartitionConsumerFrom(consumer, router), router)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Broadcast, 1)
	require.NoError(t, bp.Subscribe(ctx, func(b Broadcast) { got <- b }))
	require.NoError(t, bp.Publish(ctx, sample("hi")))

	data, err := encodeBroadcast(sample("from another replica"))
	require.NoError(t, err)
	pc.YieldMessage(&sarama.ConsumerMessage{Topic: kc.Topic, Value: data})
	assert.Equal(t, "from another replica", recv(t, got).Args[1])

	cancel()
	require.NoError(t, bp.Close())
}

func TestNewBackplane(t *testing.T) {
	conf := global.Default().Server
	bp, err := NewBackplane(context.Background(), conf)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackplane{}, bp)

	conf.Backplane = "carrier-pigeon"
	_, err = NewBackplane(context.Background(), conf)
	require.Error(t, err)
}
