package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

// RedisService 跨进程共享的去背景结果缓存
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetCutout 从缓存获取去背景后的图像，未命中时返回 nil, nil
func (s *RedisService) GetCutout(ctx context.Context, md5 string) ([]byte, error) {
	data, err := s.client.Get(ctx, cutoutKey(md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	return data, nil
}

// SetCutout 写入去背景结果
func (s *RedisService) SetCutout(ctx context.Context, md5 string, data []byte) error {
	if err := s.client.Set(ctx, cutoutKey(md5), data, s.ttl).Err(); err != nil {
		utils.Logger.Warn("failed to set cutout cache",
			zap.String("md5", md5), zap.Error(err))
		return err
	}
	return nil
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func cutoutKey(md5 string) string {
	return "cutout:" + md5
}
