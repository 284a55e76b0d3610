package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/inventory"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/repository"
	"github.com/mmeshcher/bundlemart/internal/validation"
)

// CreateOrderInput содержит данные для оформления заказа.
type CreateOrderInput struct {
	Lines         []model.ProductQty  `json:"lines" validate:"required,min=1,dive"`
	Shipping      model.Shipping      `json:"shipping"`
	PaymentMethod model.PaymentMethod `json:"payment_method" validate:"required,oneof=COD ONLINE"`
}

type catalogReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error)
}

// loadCatalog читает товары вместе с дочерними товарами наборов.
func loadCatalog(ctx context.Context, r catalogReader, ids []string) (map[string]model.Product, error) {
	products, err := r.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	var childIDs []string
	for _, p := range products {
		if !p.IsBundle() {
			continue
		}
		for _, item := range p.BundleItems {
			if _, ok := products[item.ProductID]; !ok {
				childIDs = append(childIDs, item.ProductID)
			}
		}
	}
	if len(childIDs) == 0 {
		return products, nil
	}

	children, err := r.GetProducts(ctx, childIDs)
	if err != nil {
		return nil, err
	}
	for id, p := range children {
		products[id] = p
	}
	return products, nil
}

func lineIDs(lines []model.ProductQty) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// CreateOrder оформляет заказ: резервирует остатки всех строк и сохраняет заказ в статусе PLACED.
// Ошибка резервирования любой строки отменяет весь заказ.
func (s *Service) CreateOrder(ctx context.Context, actor model.Actor, in CreateOrderInput) (*model.Order, error) {
	if actor.Role == model.RoleSystem {
		return nil, apperr.New(apperr.KindForbidden, "orders are placed by customers")
	}
	if err := validation.Lines(in.Lines); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	u := &unit{now: s.now().UTC()}
	o := &model.Order{
		ID:            uuid.NewString(),
		CustomerID:    actor.ID,
		Shipping:      in.Shipping,
		Payment:       model.Payment{Method: in.PaymentMethod, Status: model.PaymentStatusPending},
		ReturnRequest: model.ReturnRequest{Status: model.ReturnStatusNone},
		CreatedAt:     u.now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		catalog, err := loadCatalog(ctx, tx, lineIDs(in.Lines))
		if err != nil {
			return err
		}

		o.Lines = make([]model.OrderLine, 0, len(in.Lines))
		for _, l := range in.Lines {
			p, ok := catalog[l.ProductID]
			if !ok {
				return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", l.ProductID)
			}
			if !p.Active {
				return apperr.Wrap(apperr.ErrProductInactive, "product %s is inactive", l.ProductID)
			}
			if p.IsBundle() {
				if available := inventory.Available(p, catalog); available < l.Qty {
					return apperr.Wrap(apperr.ErrInsufficientStock,
						"insufficient stock for bundle %s: requested %d, available %d", p.ID, l.Qty, available)
				}
			}
			if err := inventory.Reserve(ctx, tx, p, l.Qty); err != nil {
				return err
			}
			o.Lines = append(o.Lines, snapshotLine(p, catalog, l.Qty, u))
		}

		o.RecomputeTotal()
		o.AppendHistory(model.OrderStatusPlaced, "order placed", u.now)
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	u.emit(events.EventOrderPlaced, o, "", in.Lines)
	s.afterCommit(ctx, u)
	return o, nil
}

// snapshotLine фиксирует цену и описание товара на момент покупки.
func snapshotLine(p model.Product, catalog map[string]model.Product, qty int, u *unit) model.OrderLine {
	var (
		price  decimal.Decimal
		strike decimal.Decimal
		offer  model.OfferKind
	)
	if p.IsBundle() {
		price, offer = inventory.BundlePrice(p, catalog, u.now)
		strike = p.Price
		if !strike.IsPositive() {
			strike = price
		}
	} else {
		price, offer = p.EffectivePrice(u.now)
		strike = p.Price
	}

	return model.OrderLine{
		ProductID:   p.ID,
		Kind:        p.Kind,
		Title:       p.Title,
		Slug:        p.Slug,
		Image:       p.Image,
		UnitPrice:   price,
		StrikePrice: strike,
		OfferKind:   offer,
		Qty:         qty,
	}
}

func describeLines(lines []model.ProductQty) string {
	s := ""
	for i, l := range lines {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s x%d", l.ProductID, l.Qty)
	}
	return s
}
