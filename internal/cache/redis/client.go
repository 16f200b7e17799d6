package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phishguard/backend/pkg/logger"
)

// Client caches scan results and reputation lookups. Both are read-through
// caches: a miss is never an error, only a signal to do the work.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetScan(ctx context.Context, urlKey string, result interface{}, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %w", err)
	}

	if err := c.client.Set(ctx, "scan:"+urlKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache scan result: %w", err)
	}

	logger.Debug("Scan result cached", zap.String("url_key", urlKey), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetScan(ctx context.Context, urlKey string, result interface{}) (bool, error) {
	data, err := c.client.Get(ctx, "scan:"+urlKey).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read scan cache: %w", err)
	}

	if err := json.Unmarshal(data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached scan: %w", err)
	}

	logger.Debug("Scan cache hit", zap.String("url_key", urlKey))
	return true, nil
}

func (c *Client) SetReputation(ctx context.Context, domain string, report interface{}, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal reputation report: %w", err)
	}

	if err := c.client.Set(ctx, "rep:"+domain, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache reputation report: %w", err)
	}

	logger.Debug("Reputation report cached", zap.String("domain", domain), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetReputation(ctx context.Context, domain string, report interface{}) (bool, error) {
	data, err := c.client.Get(ctx, "rep:"+domain).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read reputation cache: %w", err)
	}

	if err := json.Unmarshal(data, report); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached reputation: %w", err)
	}

	logger.Debug("Reputation cache hit", zap.String("domain", domain))
	return true, nil
}
