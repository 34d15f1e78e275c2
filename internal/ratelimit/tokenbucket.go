// Package ratelimit 實作限流器與 HTTP 中介軟體
//
// 提供兩種令牌桶實作：
//   - PerKey: 本地記憶體，每個 key（客戶端 IP）一個獨立的桶
//   - DistributedTokenBucket: Redis + Lua，多實例共享狀態
//
// 核心服務對限流無感：限流只發生在傳輸層外圍，
// 被限掉的請求根本不會到達服務層。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LimiterFunc 定義限流函數介面
//
// 使用函數介面而非具體型別，
// 讓中介軟體可以接受本地或分散式實作。
type LimiterFunc func(ctx context.Context, key string) (bool, error)

// TokenBucket 令牌桶
//
// 演算法原理：
//  1. 固定容量的桶，以固定速率填充令牌
//  2. 請求到達時嘗試取出一個令牌
//  3. 有令牌則允許，無令牌則拒絕
//
// 填充採 refill-on-read：不需要背景 goroutine，
// 在 Allow 時根據距上次填充的時間補令牌。O(1) 時間與空間。
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate int64 // 每秒填充令牌數
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 建立令牌桶
//
// capacity 決定最大突發量，refillRate 決定平均 QPS。
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity, // 初始化時桶是滿的
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow 檢查是否允許請求通過
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))

	if tokensToAdd > 0 {
		tb.tokens = min64(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 返回當前令牌數（監控用）
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}

// PerKey 為每個 key 維護獨立令牌桶的本地限流器
//
// 設計考量：
//   - 桶惰性建立（首次見到該 key 時）
//   - 不做淘汰：key 是客戶端 IP，這個規模的 PoC 可接受；
//     生產環境應加 TTL 淘汰或直接用分散式版本
type PerKey struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
}

// NewPerKey 建立 per-key 限流器
func NewPerKey(capacity, refillRate int64) *PerKey {
	return &PerKey{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Allow 檢查指定 key 是否允許請求（實作 LimiterFunc）
func (p *PerKey) Allow(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	bucket, exists := p.buckets[key]
	if !exists {
		bucket = NewTokenBucket(p.capacity, p.refillRate)
		p.buckets[key] = bucket
	}
	p.mu.Unlock()

	return bucket.Allow(), nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
