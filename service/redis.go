package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/config"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/utils"
)

// ResultCache 去背景结果缓存
type ResultCache interface {
	GetResult(ctx context.Context, digest string, color model.BgColor) (*CachedResult, error)
	SetResult(ctx context.Context, digest string, color model.BgColor, result *CachedResult) error
}

// CachedResult 缓存内容
type CachedResult struct {
	Image     string `json:"image"`
	Color     string `json:"color"`
	Timestamp int64  `json:"timestamp"`
}

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

func resultKey(digest string, color model.BgColor) string {
	return "removal:" + digest + ":" + string(color)
}

// GetResult 从缓存获取去背景结果，未命中返回 nil
func (s *RedisService) GetResult(ctx context.Context, digest string, color model.BgColor) (*CachedResult, error) {
	data, err := s.client.Get(ctx, resultKey(digest, color)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal removal result",
			zap.String("digest", digest), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetResult 设置去背景结果到缓存
func (s *RedisService) SetResult(ctx context.Context, digest string, color model.BgColor, result *CachedResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, resultKey(digest, color), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
