package config

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/yoobatch/internal/utils"
)

// NewRedis connects to addr, which is either host:port or a redis:// URL, and
// pings it once.
func NewRedis(ctx context.Context, addr string) (*redis.Client, error) {
	const op = "config.NewRedis"

	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		var err error
		if opt, err = redis.ParseURL(addr); err != nil {
			return nil, utils.E(utils.CodeConfig, op, "invalid redis url", err)
		}
	} else {
		opt = &redis.Options{Addr: addr}
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, utils.E(utils.CodeUnavailable, op, "redis ping failed", err)
	}
	return rdb, nil
}
