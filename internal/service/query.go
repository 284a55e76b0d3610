package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/inventory"
	"github.com/mmeshcher/bundlemart/internal/model"
)

// GetOrder возвращает заказ владельцу или оператору. Документ читается через кэш.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, apperr.New(apperr.KindValidation, "order id is required")
	}

	o, ok, err := s.cache.Get(ctx, orderID)
	if err != nil {
		s.logger.Warn("order cache read error", zap.Error(err), zap.String("orderID", orderID))
	}
	if !ok {
		o, err = s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, o); err != nil {
			s.logger.Warn("order cache write error", zap.Error(err), zap.String("orderID", orderID))
		}
	}

	if err := authorize(actor, o, accessOwner); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrdersByCustomer возвращает заказы текущего покупателя.
func (s *Service) GetOrdersByCustomer(ctx context.Context, actor model.Actor) ([]model.Order, error) {
	return s.repo.GetOrdersByCustomer(ctx, actor.ID)
}

// GetProductAvailability возвращает доступное количество товара: остаток для SINGLE,
// собираемое из дочерних товаров количество для BUNDLE.
func (s *Service) GetProductAvailability(ctx context.Context, productID string) (*model.Availability, error) {
	if productID == "" {
		return nil, apperr.New(apperr.KindValidation, "product id is required")
	}

	catalog, err := loadCatalog(ctx, s.repo, []string{productID})
	if err != nil {
		return nil, err
	}
	p, ok := catalog[productID]
	if !ok {
		return nil, apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", productID)
	}

	return &model.Availability{
		ProductID: p.ID,
		Kind:      p.Kind,
		Active:    p.Active,
		Available: inventory.Available(p, catalog),
	}, nil
}
