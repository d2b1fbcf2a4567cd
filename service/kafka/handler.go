package kafka

import (
	"fmt"
	"sync"
)

type MessageHandler func(topic string, key, value []byte) error

// HandlerRouter 按 topic 找 handler
type HandlerRouter struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func NewHandlerRouter() *HandlerRouter {
	return &HandlerRouter{handlers: make(map[string]MessageHandler)}
}

func (r *HandlerRouter) RegisterHandler(topic string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = handler
}

func (r *HandlerRouter) GetHandler(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for topic: %s", topic)
}

// Dispatch 交给 topic 对应的 handler
func (r *HandlerRouter) Dispatch(topic string, key, value []byte) error {
	h, err := r.GetHandler(topic)
	if err != nil {
		return err
	}
	return h(topic, key, value)
}
