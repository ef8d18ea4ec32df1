// Package tokenstore tracks revoked JWT ids (jti). When Redis is
// configured revocations survive restarts and are shared across
// replicas; otherwise an in-memory set is used.
package tokenstore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// revoked entries only need to outlive the token itself.
const revocationTTL = 24 * time.Hour

var (
	mu            sync.RWMutex
	revokedTokens = map[string]struct{}{}

	rdb *redis.Client
)

// Init connects the store to Redis. Called once at startup; a failed ping
// falls back to the in-memory set.
func Init(addr, password string) {
	if addr == "" {
		return
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[tokenstore] redis unavailable, using in-memory revocation: %v", err)
		return
	}
	rdb = client
	log.Printf("[tokenstore] using redis revocation store at %s", addr)
}

func redisKey(jti string) string { return "revoked_jti:" + jti }

func RevokeToken(jti string) {
	if jti == "" {
		return
	}
	if rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Set(ctx, redisKey(jti), 1, revocationTTL).Err(); err == nil {
			return
		} else {
			log.Printf("[tokenstore] redis set failed, falling back to memory: %v", err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	revokedTokens[jti] = struct{}{}
}

func IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}
	if rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := rdb.Exists(ctx, redisKey(jti)).Result()
		if err == nil {
			return n > 0
		}
		log.Printf("[tokenstore] redis lookup failed, checking memory: %v", err)
	}
	mu.RLock()
	defer mu.RUnlock()
	_, ok := revokedTokens[jti]
	return ok
}
