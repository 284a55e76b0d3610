// Package cache кэширует документы заказов для чтения.
package cache

import (
	"context"

	"github.com/mmeshcher/bundlemart/internal/model"
)

// OrderCache кэширует заказы на чтение. Ошибки кэша не должны влиять на результат операции.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*model.Order, bool, error)
	Set(ctx context.Context, o *model.Order) error
	Invalidate(ctx context.Context, orderIDs ...string) error
}

// Noop ничего не хранит.
type Noop struct{}

func (Noop) Get(_ context.Context, _ string) (*model.Order, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ *model.Order) error {
	return nil
}

func (Noop) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
