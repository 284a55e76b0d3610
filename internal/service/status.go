package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/inventory"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/repository"
	"github.com/mmeshcher/bundlemart/internal/sales"
	"github.com/mmeshcher/bundlemart/internal/validation"
)

// SetOrderStatus переводит заказ в новый статус по таблице переходов (только оператор).
func (s *Service) SetOrderStatus(ctx context.Context, actor model.Actor, orderID string, target model.OrderStatus, note string) (*model.Order, error) {
	return s.mutateOrder(ctx, actor, orderID, accessOperator, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		return s.transition(ctx, tx, o, target, note, u)
	})
}

// CancelOrder отменяет заказ целиком до отгрузки. Доступно владельцу и оператору.
func (s *Service) CancelOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error) {
	return s.mutateOrder(ctx, actor, orderID, accessOwner, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		return s.transition(ctx, tx, o, model.OrderStatusCancelled, reason, u)
	})
}

// transition применяет переход и его побочные эффекты к заказу внутри единицы работы.
func (s *Service) transition(ctx context.Context, tx repository.Tx, o *model.Order, target model.OrderStatus, note string, u *unit) error {
	effect, err := model.Transition(o.Status, target, o.IsReplacement)
	if err != nil {
		return err
	}

	if effect.Has(model.EffectNoop) {
		u.noop = true
		return nil
	}

	if effect.Has(model.EffectKeepStatus) {
		// Заказ уже в конечном статусе и не меняется, выполняются только эффекты.
		u.noop = true
		if effect.Has(model.EffectRefundParent) {
			return refundParent(ctx, tx, o, u)
		}
		return nil
	}

	if effect.Has(model.EffectReleaseStock) {
		released, err := releaseEligible(ctx, tx, o)
		if err != nil {
			return err
		}
		markCancelledPayment(o)
		o.AppendHistory(target, note, u.now)
		u.emit(events.EventOrderCancelled, o, note, released)
		if effect.Has(model.EffectRefundParent) {
			return refundParent(ctx, tx, o, u)
		}
		return nil
	}

	o.AppendHistory(target, note, u.now)

	if effect.Has(model.EffectCountSales) {
		if o.Payment.Method == model.PaymentMethodCOD && o.Payment.Status == model.PaymentStatusPending {
			o.Payment.Status = model.PaymentStatusPaid
		}
		if err := countSales(ctx, tx, o); err != nil {
			return err
		}
	}

	u.emit(events.EventOrderStatusChanged, o, note, nil)
	return nil
}

// releaseEligible возвращает на склад всё ещё не отменённое количество строк и пересчитывает сумму.
func releaseEligible(ctx context.Context, tx repository.Tx, o *model.Order) ([]model.ProductQty, error) {
	var released []model.ProductQty
	for i := range o.Lines {
		l := &o.Lines[i]
		if qty := l.Eligible(); qty > 0 {
			released = append(released, model.ProductQty{ProductID: l.ProductID, Qty: qty})
		}
	}

	if err := releaseLines(ctx, tx, released); err != nil {
		return nil, err
	}
	for _, r := range released {
		o.Line(r.ProductID).CancelledQty += r.Qty
	}
	o.RecomputeTotal()
	return released, nil
}

// releaseLines возвращает количества на склад: для наборов через дочерние товары.
func releaseLines(ctx context.Context, tx repository.Tx, lines []model.ProductQty) error {
	if len(lines) == 0 {
		return nil
	}
	catalog, err := tx.GetProducts(ctx, lineIDs(lines))
	if err != nil {
		return err
	}
	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", l.ProductID)
		}
		if err := inventory.Release(ctx, tx, p, l.Qty); err != nil {
			return err
		}
	}
	return nil
}

// markCancelledPayment отражает отмену в оплате: неоплаченный заказ считается неуспешным,
// оплаченный онлайн возвращается покупателю.
func markCancelledPayment(o *model.Order) {
	switch {
	case o.Payment.Method == model.PaymentMethodReplacement:
	case o.Payment.Status == model.PaymentStatusPending:
		o.Payment.Status = model.PaymentStatusFailed
	case o.Payment.Status == model.PaymentStatusPaid:
		o.Payment.Status = model.PaymentStatusRefunded
	}
}

// refundParent помечает оплату родительского заказа возвращённой. Повторный вызов ничего не меняет.
func refundParent(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
	if !o.IsReplacement || o.ParentOrderID == "" {
		return nil
	}
	parent, err := tx.GetOrderForUpdate(ctx, o.ParentOrderID)
	if err != nil {
		return fmt.Errorf("load parent order: %w", err)
	}
	if parent.Payment.Status != model.PaymentStatusPaid {
		return nil
	}

	parent.Payment.Status = model.PaymentStatusRefunded
	parent.Note(fmt.Sprintf("payment refunded: replacement order %s was %s", o.ID, o.Status), u.now)
	if err := tx.UpdateOrder(ctx, parent); err != nil {
		return err
	}
	u.touch(parent.ID)
	u.emit(events.EventOrderStatusChanged, parent, "payment refunded", nil)
	return nil
}

func countSales(ctx context.Context, tx repository.Tx, o *model.Order) error {
	for _, d := range sales.Count(o) {
		if err := tx.AdjustSoldCount(ctx, d.ProductID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

func rollbackSales(ctx context.Context, tx repository.Tx, o *model.Order) error {
	for _, d := range sales.Rollback(o) {
		if err := tx.AdjustSoldCount(ctx, d.ProductID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

// CancelItems отменяет часть количества по строкам до отгрузки. Если отменено всё, заказ становится CANCELLED.
func (s *Service) CancelItems(ctx context.Context, actor model.Actor, orderID string, lines []model.ProductQty, reason string) (*model.Order, error) {
	if err := validation.Lines(lines); err != nil {
		return nil, err
	}

	return s.mutateOrder(ctx, actor, orderID, accessOwner, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if !o.Status.IsCancellable() {
			return apperr.Newf(apperr.KindStateConflict, "items of an order in %s cannot be cancelled", o.Status)
		}

		for _, req := range lines {
			l := o.Line(req.ProductID)
			if l == nil {
				return apperr.Newf(apperr.KindValidation, "product %s is not in order %s", req.ProductID, o.ID)
			}
			if req.Qty > l.Eligible() {
				return apperr.Wrap(apperr.ErrInvalidQuantity,
					"cannot cancel %d of %s: only %d eligible", req.Qty, req.ProductID, l.Eligible())
			}
		}

		if err := releaseLines(ctx, tx, lines); err != nil {
			return err
		}
		for _, req := range lines {
			o.Line(req.ProductID).CancelledQty += req.Qty
		}
		o.RecomputeTotal()

		if o.FullyCancelled() {
			markCancelledPayment(o)
			o.AppendHistory(model.OrderStatusCancelled, reason, u.now)
			u.emit(events.EventOrderCancelled, o, reason, lines)
			return refundParent(ctx, tx, o, u)
		}

		note := "items cancelled: " + describeLines(lines)
		if reason != "" {
			note += " (" + reason + ")"
		}
		o.Note(note, u.now)
		u.emit(events.EventItemsCancelled, o, reason, lines)
		return nil
	})
}
