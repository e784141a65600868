package telemetry

import (
	"context"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"
)

// MonitorRedis logs every Redis dial and command at debug level.
func MonitorRedis(r redis.UniversalClient, l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	r.AddHook(redisLog{l: l})
}

type redisLog struct {
	l *slog.Logger
}

func (h redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			h.l.WarnContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return conn, err
		}
		h.l.DebugContext(ctx, "redis: dialed", "network", network, "addr", addr)
		return conn, nil
	}
}

func (h redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := hook(ctx, cmd)
		h.l.DebugContext(ctx, "redis: processed", "cmd", cmd.Name(), "error", err)
		return err
	}
}

func (h redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := hook(ctx, cmds)
		h.l.DebugContext(ctx, "redis: pipeline processed", "cmds", len(cmds), "error", err)
		return err
	}
}
