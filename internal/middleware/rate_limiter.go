package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const bannedIPsKey = "banned_ips"

// RateLimiterConfig defines rate limiting rules
type RateLimiterConfig struct {
	MaxRequests int           // Maximum requests allowed in the window
	Window      time.Duration // Counting window
	BlockTime   time.Duration // How long a client stays blocked after exceeding the limit
}

// RateLimiter provides IP-based rate limiting using Redis
type RateLimiter struct {
	redis  *redis.Client
	config RateLimiterConfig
	prefix string
}

// NewRateLimiter creates a rate limiter. prefix separates counters of
// different route groups, so upload traffic does not eat the login budget.
func NewRateLimiter(redisClient *redis.Client, config RateLimiterConfig, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "default"
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		if banned, _ := rl.IsIPBanned(ctx, clientIP); banned {
			abort(c, http.StatusForbidden, "Your IP address has been banned")
			return
		}

		allowed, retryAfter, err := rl.CheckLimit(ctx, clientIP)
		if err != nil {
			// Fail open: an unavailable Redis must not take the API down.
			logger.Log.Warn("Rate limiter unavailable",
				zap.String("ip", clientIP),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if !allowed {
			seconds := int(retryAfter.Round(time.Second).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please try again later.",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

// BanGuard rejects banned addresses on every route without counting requests.
func (rl *RateLimiter) BanGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if banned, _ := rl.IsIPBanned(c.Request.Context(), c.ClientIP()); banned {
			abort(c, http.StatusForbidden, "Your IP address has been banned")
			return
		}
		c.Next()
	}
}

// CheckLimit counts a request from ip in a fixed window. Exceeding the
// limit blocks the client for BlockTime.
func (rl *RateLimiter) CheckLimit(ctx context.Context, ip string) (bool, time.Duration, error) {
	blockKey := fmt.Sprintf("ratelimit:%s:block:%s", rl.prefix, ip)
	countKey := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, ip)

	ttl, err := rl.redis.TTL(ctx, blockKey).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl > 0 {
		return false, ttl, nil
	}

	count, err := rl.redis.Incr(ctx, countKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, countKey, rl.config.Window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > int64(rl.config.MaxRequests) {
		block := rl.config.BlockTime
		if block <= 0 {
			block = rl.config.Window
		}
		if err := rl.redis.Set(ctx, blockKey, 1, block).Err(); err != nil {
			return false, 0, err
		}
		logger.Log.Warn("Rate limit exceeded",
			zap.String("ip", ip),
			zap.String("group", rl.prefix),
			zap.Int64("count", count),
		)
		return false, block, nil
	}

	return true, 0, nil
}

func (rl *RateLimiter) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	return rl.redis.SIsMember(ctx, bannedIPsKey, ip).Result()
}

func (rl *RateLimiter) BanIP(ctx context.Context, ip string) error {
	return rl.redis.SAdd(ctx, bannedIPsKey, ip).Err()
}

func (rl *RateLimiter) UnbanIP(ctx context.Context, ip string) error {
	return rl.redis.SRem(ctx, bannedIPsKey, ip).Err()
}
