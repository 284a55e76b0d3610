package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
)

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	r, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPostgresRepository_ReserveAndRollback(t *testing.T) {
	r := newTestPostgres(t)
	ctx := context.Background()

	a := "pg-a-" + uuid.NewString()
	b := "pg-b-" + uuid.NewString()
	bundle := "pg-x-" + uuid.NewString()
	require.NoError(t, r.SaveProduct(ctx, singleProduct(a, 4)))
	require.NoError(t, r.SaveProduct(ctx, singleProduct(b, 10)))
	require.NoError(t, r.SaveProduct(ctx, model.Product{
		ID: bundle, Kind: model.ProductKindBundle, Title: "bundle", Active: true,
		BundleItems: []model.BundleItem{{ProductID: a, Qty: 1}, {ProductID: b, Qty: 2}},
	}))

	products, err := r.GetProducts(ctx, []string{bundle})
	require.NoError(t, err)
	require.Len(t, products[bundle].BundleItems, 2)
	assert.Equal(t, b, products[bundle].BundleItems[1].ProductID)

	err = r.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Reserve(ctx, a, 4))
		return tx.Reserve(ctx, b, 11)
	})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))

	products, err = r.GetProducts(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 4, products[a].Stock)
	assert.Equal(t, 10, products[b].Stock)
}

func TestPostgresRepository_ConcurrentReserve(t *testing.T) {
	r := newTestPostgres(t)
	ctx := context.Background()

	id := "pg-c-" + uuid.NewString()
	require.NoError(t, r.SaveProduct(ctx, singleProduct(id, 5)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.Reserve(ctx, id, 1)
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	products, err := r.GetProducts(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, 5, success)
	assert.Equal(t, 0, products[id].Stock)
}

func TestPostgresRepository_OrderRoundTrip(t *testing.T) {
	r := newTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	o := &model.Order{
		ID:         uuid.NewString(),
		CustomerID: 77,
		Lines: []model.OrderLine{{
			ProductID: "p", Kind: model.ProductKindSingle, Title: "P",
			UnitPrice: decimal.NewFromInt(10), StrikePrice: decimal.NewFromInt(12), OfferKind: model.OfferKindDiscount, Qty: 2,
		}},
		Shipping:      model.Shipping{Name: "n", Phone: "1", Line1: "l", City: "c", PostalCode: "0"},
		Total:         decimal.NewFromInt(20),
		Payment:       model.Payment{Method: model.PaymentMethodCOD, Status: model.PaymentStatusPending},
		Status:        model.OrderStatusPlaced,
		History:       []model.StatusEntry{{Status: model.OrderStatusPlaced, At: now}},
		ReturnRequest: model.ReturnRequest{Status: model.ReturnStatusNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, r.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, o)
	}))

	got, err := r.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.CustomerID, got.CustomerID)
	assert.Equal(t, o.Status, got.Status)
	assert.True(t, o.Total.Equal(got.Total))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Qty)
	assert.Empty(t, got.ParentOrderID)

	_, err = r.GetOrder(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, apperr.ErrOrderNotFound))
}
