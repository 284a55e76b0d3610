package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/bundlemart/internal/model"
)

// keyOrder: order:{order_id} -> JSON документа заказа.
const keyOrder = "order:%s"

// DefaultTTL используется, если время жизни не задано.
const DefaultTTL = 5 * time.Minute

// TombstoneTTL: сколько живёт метка инвалидации. Пока она есть, Set не перезаписывает ключ,
// поэтому документ, прочитанный до коммита изменения, не попадает в кэш.
const TombstoneTTL = 30 * time.Second

const tombstone = "-"

// Redis хранит документы заказов в Redis с ограниченным временем жизни.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis создаёт кэш заказов поверх Redis по указанному адресу.
func NewRedis(addr string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRedisWithClient оборачивает готовый клиент.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Ping проверяет доступность Redis.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Get возвращает заказ из кэша. Отсутствие ключа не является ошибкой.
func (c *Redis) Get(ctx context.Context, orderID string) (*model.Order, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf(keyOrder, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	if string(val) == tombstone {
		return nil, false, nil
	}

	var o model.Order
	if err := json.Unmarshal(val, &o); err != nil {
		return nil, false, fmt.Errorf("decode cached order: %w", err)
	}
	return &o, true, nil
}

// Set сохраняет заказ в кэш. Существующий ключ не перезаписывается: свежий документ
// уже лежит в кэше, либо заказ недавно изменён и стоит метка инвалидации.
func (c *Redis) Set(ctx context.Context, o *model.Order) error {
	if o == nil {
		return nil
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return c.client.SetNX(ctx, fmt.Sprintf(keyOrder, o.ID), payload, c.ttl).Err()
}

// Invalidate заменяет документы заказов меткой инвалидации.
func (c *Redis) Invalidate(ctx context.Context, orderIDs ...string) error {
	pipe := c.client.TxPipeline()
	n := 0
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		pipe.Set(ctx, fmt.Sprintf(keyOrder, id), tombstone, TombstoneTTL)
		n++
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
