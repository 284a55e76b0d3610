// Package repository содержит реализации хранилища товаров и заказов: PostgreSQL и in-memory.
package repository

import (
	"context"

	"github.com/mmeshcher/bundlemart/internal/model"
)

// Tx представляет единицу работы. Все изменения внутри неё фиксируются или откатываются целиком.
type Tx interface {
	// Reserve условно списывает остаток: только активный SINGLE-товар и только если stock >= qty
	// в момент изменения.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release безусловно возвращает остаток.
	Release(ctx context.Context, productID string, qty int) error
	// AdjustSoldCount меняет счётчик продаж на delta, не опуская его ниже нуля.
	AdjustSoldCount(ctx context.Context, productID string, delta int) error
	GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error)
	GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	// FindReplacementOrderID возвращает идентификатор заказа-замены родителя или пустую строку.
	FindReplacementOrderID(ctx context.Context, parentID string) (string, error)
	InsertOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, o *model.Order) error
}

// TxFunc выполняется внутри единицы работы.
type TxFunc func(ctx context.Context, tx Tx) error

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}
