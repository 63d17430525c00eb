// Package cache keeps a read-through copy of products in Redis.
//
// Each product has a generation counter next to its cached value. Invalidate
// bumps the counter, and Fill only writes a snapshot back when the counter
// still holds the value read before the snapshot was loaded.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crowdfund/internal/model"
)

// setIfGeneration: KEYS[1]=product KEYS[2]=generation ARGV[1]=expected generation ARGV[2]=value ARGV[3]=ttl ms
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type ProductCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewProductCache(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *ProductCache {
	return &ProductCache{rdb: rdb, ttl: ttl, logger: logger}
}

func productKey(id int64) string {
	return fmt.Sprintf("crowdfund:product:%d", id)
}

func generationKey(id int64) string {
	return fmt.Sprintf("crowdfund:product:%d:gen", id)
}

// Get 命中返回 true；Redis 不可用时按未命中处理
func (c *ProductCache) Get(ctx context.Context, id int64) (*model.Product, bool) {
	raw, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		return nil, false
	}

	var p model.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warn("Dropping corrupt cached product", zap.Int64("product_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &p, true
}

// Fill 未命中时调用 load 读取存储，并在期间没有 Invalidate 的前提下回填缓存
func (c *ProductCache) Fill(
	ctx context.Context,
	id int64,
	load func(ctx context.Context, id int64) (*model.Product, error),
) (*model.Product, error) {
	gen, genOK := c.generation(ctx, id)

	p, err := load(ctx, id)
	if err != nil || !genOK {
		return p, err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	stored, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{productKey(id), generationKey(id)},
		gen, raw, c.ttl.Milliseconds(),
	).Int()
	switch {
	case err != nil:
		c.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
	case stored == 0:
		c.logger.Debug("Skipped caching product changed during load", zap.Int64("product_id", id))
	}
	return p, nil
}

// generation 读取失败时返回 false，调用方不应回填
func (c *ProductCache) generation(ctx context.Context, id int64) (string, bool) {
	n, err := c.rdb.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		c.logger.Warn("Product cache generation read failed", zap.Int64("product_id", id), zap.Error(err))
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

// Invalidate 在每次成功修改产品后调用
func (c *ProductCache) Invalidate(ctx context.Context, id int64) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Del(ctx, productKey(id))
		return nil
	})
	if err != nil {
		c.logger.Warn("Product cache invalidation failed", zap.Int64("product_id", id), zap.Error(err))
	}
}
