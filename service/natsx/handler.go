package natsx

import (
	"context"

	"PPHub/logger"
	"PPHub/tools/safe"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、指标、重试等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件，第一个中间件在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover 把 handler 里的 panic 转成 error
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			if perr := safe.Recover(func() { err = next(ctx, msg) }); perr != nil {
				return perr
			}
			return err
		}
	}
}

// NatsxLogErrors 记录 handler 返回的错误
func NatsxLogErrors(log *zap.Logger) NatsxMiddleware {
	if log == nil {
		log = logger.Named("natsx")
	}
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			err := next(ctx, msg)
			if err != nil {
				log.Warn("[NATS] handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return err
		}
	}
}
