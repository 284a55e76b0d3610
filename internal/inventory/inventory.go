// Package inventory резервирует и возвращает остатки товаров и вычисляет доступность наборов.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
)

// Ledger описывает складской журнал: условное списание и безусловный возврат остатка одного товара.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

// AvailableQty возвращает количество наборов, которое можно собрать из остатков дочерних товаров.
func AvailableQty(bundle model.Product, children map[string]model.Product) int {
	if len(bundle.BundleItems) < 2 {
		return 0
	}

	available := -1
	for _, item := range bundle.BundleItems {
		if item.Qty <= 0 {
			return 0
		}
		child, ok := children[item.ProductID]
		if !ok || !child.Active || child.IsBundle() {
			return 0
		}
		n := child.Stock / item.Qty
		if available < 0 || n < available {
			available = n
		}
	}
	if available < 0 {
		return 0
	}
	return available
}

// Available возвращает доступное к продаже количество любого товара.
func Available(p model.Product, children map[string]model.Product) int {
	if !p.Active {
		return 0
	}
	if p.IsBundle() {
		return AvailableQty(p, children)
	}
	if p.Stock < 0 {
		return 0
	}
	return p.Stock
}

// BundlePrice возвращает цену набора: собственную, если она задана, иначе сумму цен дочерних товаров.
func BundlePrice(bundle model.Product, children map[string]model.Product, now time.Time) (decimal.Decimal, model.OfferKind) {
	if bundle.Price.IsPositive() {
		return bundle.EffectivePrice(now)
	}
	total := decimal.Zero
	for _, item := range bundle.BundleItems {
		child, ok := children[item.ProductID]
		if !ok {
			continue
		}
		price, _ := child.EffectivePrice(now)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total, model.OfferKindNone
}

// ReserveBundle списывает qty наборов с дочерних товаров. При ошибке на k-м товаре
// уже списанные товары 1..k−1 возвращаются до того, как ошибка будет отдана вызывающему.
func ReserveBundle(ctx context.Context, l Ledger, bundle model.Product, qty int) error {
	if qty <= 0 {
		return apperr.Wrap(apperr.ErrInvalidQuantity, "bundle quantity must be positive, got %d", qty)
	}
	if len(bundle.BundleItems) < 2 {
		return apperr.Wrap(apperr.ErrInsufficientStock, "bundle %s has no sellable composition", bundle.ID)
	}

	applied := make([]model.BundleItem, 0, len(bundle.BundleItems))
	for _, item := range bundle.BundleItems {
		if item.Qty <= 0 {
			err := apperr.Wrap(apperr.ErrInsufficientStock, "bundle %s has invalid quantity for %s", bundle.ID, item.ProductID)
			return compensate(ctx, l, applied, qty, err)
		}
		need := item.Qty * qty
		if err := l.Reserve(ctx, item.ProductID, need); err != nil {
			return compensate(ctx, l, applied, qty, fmt.Errorf("reserve bundle %s child %s: %w", bundle.ID, item.ProductID, err))
		}
		applied = append(applied, item)
	}
	return nil
}

func compensate(ctx context.Context, l Ledger, applied []model.BundleItem, qty int, cause error) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := l.Release(ctx, applied[i].ProductID, applied[i].Qty*qty); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", applied[i].ProductID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{cause}, errs...)...)
	}
	return cause
}

// ReleaseBundle возвращает на склад дочерние товары qty наборов.
func ReleaseBundle(ctx context.Context, l Ledger, bundle model.Product, qty int) error {
	for _, item := range bundle.BundleItems {
		if item.Qty <= 0 {
			continue
		}
		if err := l.Release(ctx, item.ProductID, item.Qty*qty); err != nil {
			return fmt.Errorf("release bundle %s child %s: %w", bundle.ID, item.ProductID, err)
		}
	}
	return nil
}

// Reserve списывает qty единиц товара: напрямую для SINGLE, через дочерние товары для BUNDLE.
func Reserve(ctx context.Context, l Ledger, p model.Product, qty int) error {
	if qty <= 0 {
		return apperr.Wrap(apperr.ErrInvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if p.IsBundle() {
		return ReserveBundle(ctx, l, p, qty)
	}
	return l.Reserve(ctx, p.ID, qty)
}

// Release возвращает qty единиц товара на склад.
func Release(ctx context.Context, l Ledger, p model.Product, qty int) error {
	if qty <= 0 {
		return nil
	}
	if p.IsBundle() {
		return ReleaseBundle(ctx, l, p, qty)
	}
	return l.Release(ctx, p.ID, qty)
}

// ReviewTargets возвращает товары, отзывы по которым нужно удалить при возврате товара p.
func ReviewTargets(p model.Product) []string {
	if !p.IsBundle() {
		return []string{p.ID}
	}
	ids := make([]string, 0, len(p.BundleItems))
	for _, item := range p.BundleItems {
		ids = append(ids, item.ProductID)
	}
	return ids
}
