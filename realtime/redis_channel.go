package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisTopic   = "spectate:events"
	redisHealthInterval = 15 * time.Second
	redisPingTimeout    = 3 * time.Second
)

// RedisChannel fans events out through Redis pub/sub so several instances share one feed.
type RedisChannel struct {
	client *redis.Client
	topic  string
	logger *slog.Logger

	handlers  handlerSet
	connected atomic.Bool

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisClientFromURL(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func NewRedisChannel(client *redis.Client, topic string, logger *slog.Logger) *RedisChannel {
	if topic == "" {
		topic = DefaultRedisTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{
		client: client,
		topic:  topic,
		logger: logger.With(slog.String("topic", topic)),
	}
}

// Connect pings Redis and starts the receive loop. Calling it again while connected is a no-op.
func (c *RedisChannel) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return true
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn("redis ping failed", slog.Any("error", err))
		return false
	}

	if c.pubsub == nil {
		loopCtx, loopCancel := context.WithCancel(context.Background())
		c.pubsub = c.client.Subscribe(loopCtx, c.topic)
		c.cancel = loopCancel
		c.wg.Add(2)
		go c.receive(loopCtx, c.pubsub)
		go c.watch(loopCtx)
	}

	c.connected.Store(true)
	c.logger.Info("redis channel connected")
	return true
}

func (c *RedisChannel) IsConnected() bool {
	return c.connected.Load()
}

func (c *RedisChannel) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(handler func(Event)) Subscription {
	return c.handlers.add(handler)
}

func (c *RedisChannel) Close() error {
	c.mu.Lock()
	pubsub, cancel := c.pubsub, c.cancel
	c.pubsub, c.cancel = nil, nil
	c.connected.Store(false)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	c.wg.Wait()
	return err
}

func (c *RedisChannel) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer c.wg.Done()
	for msg := range pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			c.logger.Warn("skipping malformed event", slog.Any("error", err))
			continue
		}
		if ctx.Err() != nil {
			return
		}
		c.handlers.dispatch(event)
	}
}

// watch следит за доступностью Redis и обновляет флаг подключения.
func (c *RedisChannel) watch(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(redisHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
			err := c.client.Ping(pingCtx).Err()
			cancel()
			was := c.connected.Swap(err == nil)
			switch {
			case err != nil && was:
				c.logger.Warn("redis channel lost", slog.Any("error", err))
			case err == nil && !was:
				c.logger.Info("redis channel restored")
			}
		}
	}
}
