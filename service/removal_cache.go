package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CutoutStore 二级缓存，RedisService 实现了该接口
type CutoutStore interface {
	GetCutout(ctx context.Context, md5 string) ([]byte, error)
	SetCutout(ctx context.Context, md5 string, data []byte) error
}

// CachedRemover 按原图 MD5 缓存去背景结果：进程内 ristretto + 可选的 redis，
// 同一张图的并发请求只调用一次下游服务
type CachedRemover struct {
	next    Remover
	local   *cache.Cache[[]byte]
	l2      CutoutStore
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

// NewCachedRemover l2 为 nil 时只使用进程内缓存；timeout 限制共享的下游调用，<=0 表示不限
func NewCachedRemover(next Remover, cfg *config.CacheConfig, l2 CutoutStore, timeout time.Duration) (*CachedRemover, error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &CachedRemover{
		next:    next,
		local:   cache.New[[]byte](ristretto_store.NewRistretto(ristrettoCache)),
		l2:      l2,
		ttl:     cfg.TTL,
		timeout: timeout,
	}, nil
}

func (c *CachedRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	key := utils.BytesMD5(data)

	if cached, err := c.local.Get(ctx, key); err == nil && len(cached) > 0 {
		utils.Logger.Debug("cutout cache hit", zap.String("md5", key), zap.String("tier", "local"))
		return cached, nil
	}

	// 共享的调用不跟随任何一个请求取消，每个调用方只等待自己的 ctx
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := c.sharedContext(ctx)
		defer cancel()
		return c.load(shared, key, data)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			utils.Logger.Debug("cutout request shared", zap.String("md5", key))
		}
		return res.Val.([]byte), nil
	}
}

func (c *CachedRemover) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, c.timeout)
}

// load 依次查询 redis 和下游服务，成功后写入两级缓存
func (c *CachedRemover) load(ctx context.Context, key string, data []byte) ([]byte, error) {
	if c.l2 != nil {
		cached, err := c.l2.GetCutout(ctx, key)
		if err != nil {
			utils.Logger.Warn("failed to get cutout cache", zap.String("md5", key), zap.Error(err))
		} else if cached != nil {
			utils.Logger.Debug("cutout cache hit", zap.String("md5", key), zap.String("tier", "redis"))
			c.remember(ctx, key, cached)
			return cached, nil
		}
	}

	out, err := c.next.Remove(ctx, data)
	if err != nil {
		return nil, err
	}

	c.remember(ctx, key, out)
	if c.l2 != nil {
		// 写入失败只影响缓存
		_ = c.l2.SetCutout(ctx, key, out)
	}
	return out, nil
}

func (c *CachedRemover) remember(ctx context.Context, key string, data []byte) {
	err := c.local.Set(ctx, key, data,
		store.WithCost(int64(len(data))),
		store.WithExpiration(c.ttl))
	if err != nil {
		utils.Logger.Debug("failed to set local cutout cache", zap.String("md5", key), zap.Error(err))
	}
}
