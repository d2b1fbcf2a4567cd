package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"PPHub/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Presence records which hub replicas are alive. Each replica owns one key
// pphub:presence:<channel>:<node> whose value is its listen address and
// whose TTL bounds how long a crashed replica stays listed.
type Presence struct {
	rdb     *redis.Client
	channel string
	ttl     time.Duration
}

func NewPresence(rdb *redis.Client, channel string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Presence{rdb: rdb, channel: channel, ttl: ttl}
}

func (p *Presence) prefix() string { return "pphub:presence:" + p.channel + ":" }

func (p *Presence) key(node string) string { return p.prefix() + node }

// Online sets the node as online and renews the TTL.
func (p *Presence) Online(ctx context.Context, node, addr string) error {
	if err := p.rdb.Set(ctx, p.key(node), addr, p.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence online", "node", node)
	}
	return nil
}

// Offline removes the node.
func (p *Presence) Offline(ctx context.Context, node string) error {
	return errs.Wrap(p.rdb.Del(ctx, p.key(node)).Err())
}

// Lookup reports the address of node, if it is online.
func (p *Presence) Lookup(ctx context.Context, node string) (addr string, online bool, err error) {
	val, err := p.rdb.Get(ctx, p.key(node)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(err)
	}
	return val, true, nil
}

// Nodes lists the online node ids, sorted.
func (p *Presence) Nodes(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := p.rdb.Scan(ctx, cursor, p.prefix()+"*", 100).Result()
		if err != nil {
			return nil, errs.Wrap(err)
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, p.prefix()))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(out)
	return out, nil
}

// Keep renews the node every ttl/3 until ctx ends, then takes it offline.
func (p *Presence) Keep(ctx context.Context, node, addr string, onErr func(error)) {
	if err := p.Online(ctx, node, addr); err != nil && onErr != nil {
		onErr(err)
	}
	t := time.NewTicker(p.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = p.Offline(offCtx, node)
			cancel()
			return
		case <-t.C:
			if err := p.Online(ctx, node, addr); err != nil && onErr != nil && ctx.Err() == nil {
				onErr(err)
			}
		}
	}
}
