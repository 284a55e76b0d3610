package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/model"
)

func TestNoop(t *testing.T) {
	var c OrderCache = Noop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &model.Order{ID: "x"}))
	o, ok, err := c.Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, o)
	assert.NoError(t, c.Invalidate(ctx, "x"))
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	c := newTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o := &model.Order{
		ID:     uuid.NewString(),
		Status: model.OrderStatusConfirmed,
		Total:  decimal.RequireFromString("12.50"),
		Lines:  []model.OrderLine{{ProductID: "p", Qty: 2, UnitPrice: decimal.RequireFromString("6.25")}},
	}
	require.NoError(t, c.Set(ctx, o))

	got, ok, err := c.Get(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, o.Status, got.Status)
	assert.True(t, o.Total.Equal(got.Total))

	require.NoError(t, c.Invalidate(ctx, o.ID, ""))
	_, ok, err = c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_StaleSetAfterInvalidateIsIgnored(t *testing.T) {
	c := newTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.NewString()
	stale := &model.Order{ID: id, Status: model.OrderStatusPlaced}

	// читатель загрузил документ до коммита, а записал его в кэш уже после инвалидации
	require.NoError(t, c.Invalidate(ctx, id))
	require.NoError(t, c.Set(ctx, stale))

	_, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_SetKeepsExistingDocument(t *testing.T) {
	c := newTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.NewString()
	require.NoError(t, c.Set(ctx, &model.Order{ID: id, Status: model.OrderStatusConfirmed}))
	require.NoError(t, c.Set(ctx, &model.Order{ID: id, Status: model.OrderStatusPlaced}))

	got, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
}
