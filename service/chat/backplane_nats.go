package chat

import (
	"context"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/natsx"

	"go.uber.org/zap"
)

const natsBiz = "hub-broadcast"

// natsBus is the part of natsx.NatsManager the backplane uses.
type natsBus interface {
	RegisterRoute(r natsx.NatsxRoute) error
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
	Subscribe(ctx context.Context, biz string, h natsx.NatsxHandler) error
	Close() error
}

// NatsBackplane publishes broadcasts on a core NATS subject. Every replica
// subscribes without a queue group so each one sees every broadcast.
type NatsBackplane struct {
	bus natsBus
	log *zap.Logger
}

func NewNatsBackplane(bus natsBus, subject string) (*NatsBackplane, error) {
	if err := bus.RegisterRoute(natsx.NatsxRoute{Biz: natsBiz, Subject: subject}); err != nil {
		return nil, err
	}
	return &NatsBackplane{bus: bus, log: logger.Named("backplane")}, nil
}

func DialNatsBackplane(conf global.ServerConfig) (*NatsBackplane, error) {
	m, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers:       conf.Nats.Servers,
		Name:          conf.Nats.Name,
		ReconnectWait: conf.Nats.ReconnectWait,
		Timeout:       conf.Nats.Timeout,
	}, 3, natsx.NatsxRecover(), natsx.NatsxLogErrors(nil))
	if err != nil {
		return nil, err
	}
	bp, err := NewNatsBackplane(m, conf.Channel)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return bp, nil
}

func (n *NatsBackplane) Publish(ctx context.Context, b Broadcast) error {
	data, err := encodeBroadcast(b)
	if err != nil {
		return err
	}
	return n.bus.Publish(ctx, natsBiz, data, map[string]string{"Pphub-Origin": b.Origin})
}

func (n *NatsBackplane) Subscribe(ctx context.Context, fn func(Broadcast)) error {
	return n.bus.Subscribe(ctx, natsBiz, func(_ context.Context, msg natsx.NatsxMessage) error {
		b, err := decodeBroadcast(msg.Data)
		if err != nil {
			return err
		}
		fn(b)
		return nil
	})
}

func (n *NatsBackplane) Close() error { return n.bus.Close() }
