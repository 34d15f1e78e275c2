package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedTokenBucket 分散式令牌桶限流器
//
// 為何需要分散式限流？
//   - 單機限流無法在多實例間共享狀態
//   - 範例：限制 100 req/s，3 個實例各自限流 → 實際 300 req/s
//
// 為何使用 Redis + Lua？
//   - Redis：集中式狀態儲存，所有實例共享計數器
//   - Lua：單次往返執行完整的「讀 → 填充 → 扣除」邏輯，
//     Redis 保證原子性，沒有 race condition
type DistributedTokenBucket struct {
	client     *redis.Client
	capacity   int64
	refillRate int64
	script     *redis.Script
}

// Lua 腳本：令牌桶演算法
//
// KEYS[1]: 限流 key
// ARGV[1]: 容量
// ARGV[2]: 填充速率（每秒）
// ARGV[3]: 當前時間（Unix timestamp）
//
// 返回值：1 允許、0 拒絕
var tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', key .. ':tokens') or capacity)
local last_refill = tonumber(redis.call('GET', key .. ':last_refill') or now)

local elapsed = math.max(0, now - last_refill)
local tokens_to_add = elapsed * refill_rate
tokens = math.min(capacity, tokens + tokens_to_add)

if tokens >= 1 then
    tokens = tokens - 1

    redis.call('SET', key .. ':tokens', tokens)
    redis.call('SET', key .. ':last_refill', now)
    redis.call('EXPIRE', key .. ':tokens', 3600)
    redis.call('EXPIRE', key .. ':last_refill', 3600)

    return 1
else
    return 0
end
`

// NewDistributedTokenBucket 建立分散式令牌桶
func NewDistributedTokenBucket(client *redis.Client, capacity, refillRate int64) *DistributedTokenBucket {
	return &DistributedTokenBucket{
		client:     client,
		capacity:   capacity,
		refillRate: refillRate,
		script:     redis.NewScript(tokenBucketScript),
	}
}

// Allow 檢查是否允許請求（實作 LimiterFunc）
//
// 錯誤處理策略：Redis 呼叫失敗時回傳錯誤，
// 由中介軟體決定降級行為（本實作選擇放行，可用性優先）。
func (dtb *DistributedTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().Unix()

	result, err := dtb.script.Run(
		ctx,
		dtb.client,
		[]string{key},
		dtb.capacity,
		dtb.refillRate,
		now,
	).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit script: unexpected result type %T", result)
	}
	return allowed == 1, nil
}
