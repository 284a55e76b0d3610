package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/payment"
	"github.com/mmeshcher/bundlemart/internal/repository"
)

// OnPaymentConfirmed отмечает заказ оплаченным и переводит PLACED в CONFIRMED.
// Повторное подтверждение уже оплаченного заказа ничего не меняет.
func (s *Service) OnPaymentConfirmed(ctx context.Context, orderID, reference string) (*model.Order, error) {
	return s.mutateOrder(ctx, model.SystemActor, orderID, accessOperator, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.Payment.Status == model.PaymentStatusPaid {
			u.noop = true
			return nil
		}
		if o.Status.IsTerminal() {
			return apperr.Newf(apperr.KindStateConflict, "order is %s, payment cannot be confirmed", o.Status)
		}
		if o.Payment.Status != model.PaymentStatusPending {
			return apperr.Newf(apperr.KindStateConflict, "payment is %s and cannot be confirmed", o.Payment.Status)
		}

		o.Payment.Status = model.PaymentStatusPaid
		if reference != "" {
			o.Payment.Reference = reference
		}

		if o.Status == model.OrderStatusPlaced {
			o.AppendHistory(model.OrderStatusConfirmed, "payment confirmed", u.now)
		} else {
			o.Note("payment confirmed", u.now)
		}

		if o.Status == model.OrderStatusDelivered {
			if err := countSales(ctx, tx, o); err != nil {
				return err
			}
		}

		u.emit(events.EventPaymentConfirmed, o, reference, nil)
		return nil
	})
}

// OnPaymentFailedOrAbandoned отменяет неоплаченный заказ: оплата FAILED, остатки возвращаются,
// сумма пересчитывается. Заказ в конечном статусе только получает отметку о неуспешной оплате.
func (s *Service) OnPaymentFailedOrAbandoned(ctx context.Context, orderID, reason string) (*model.Order, error) {
	return s.mutateOrder(ctx, model.SystemActor, orderID, accessOperator, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.Payment.Status == model.PaymentStatusPaid || o.Payment.Status == model.PaymentStatusRefunded {
			return apperr.Newf(apperr.KindStateConflict, "payment is already %s", o.Payment.Status)
		}

		note := "payment failed"
		if reason != "" {
			note += ": " + reason
		}

		if o.Status.IsTerminal() {
			if o.Payment.Status == model.PaymentStatusFailed {
				u.noop = true
				return nil
			}
			o.Payment.Status = model.PaymentStatusFailed
			o.Note(note, u.now)
			u.emit(events.EventPaymentFailed, o, reason, nil)
			return nil
		}

		if !o.Status.IsCancellable() {
			return apperr.Newf(apperr.KindStateConflict, "order is %s and cannot be cancelled on payment failure", o.Status)
		}

		released, err := releaseEligible(ctx, tx, o)
		if err != nil {
			return err
		}
		o.Payment.Status = model.PaymentStatusFailed
		o.AppendHistory(model.OrderStatusCancelled, note, u.now)
		u.emit(events.EventPaymentFailed, o, reason, released)
		return nil
	})
}

// RunPaymentReconciliation периодически сверяет онлайн-заказы, оплата которых не подтверждена
// дольше допустимого. Возвращает nil после отмены ctx.
func (s *Service) RunPaymentReconciliation(ctx context.Context) error {
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reconcileBatch(ctx)
		}
	}
}

func (s *Service) reconcileBatch(ctx context.Context) {
	before := s.now().Add(-s.abandonAfter)
	ids, err := s.repo.GetStalePendingPayments(ctx, before, reconcileBatchSize)
	if err != nil {
		s.logger.Error("list stale payments error", zap.Error(err))
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		if s.payments == nil {
			s.abandon(ctx, id, "payment not confirmed in time")
			continue
		}

		resp, statusCode, retryAfter, err := s.payments.GetPaymentStatus(ctx, id)
		if err != nil {
			s.logger.Warn("payment status request error", zap.Error(err), zap.String("orderID", id))
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			s.abandon(ctx, id, "payment unknown to provider")
			continue
		}

		switch resp.Status {
		case payment.ProviderStatusPaid:
			if _, err := s.OnPaymentConfirmed(ctx, id, resp.Reference); err != nil {
				s.logger.Warn("confirm payment error", zap.Error(err), zap.String("orderID", id))
			}
		case payment.ProviderStatusFailed, payment.ProviderStatusExpired:
			reason := resp.Reason
			if reason == "" {
				reason = "provider reported " + resp.Status
			}
			s.abandon(ctx, id, reason)
		case payment.ProviderStatusPending:
		default:
			s.logger.Warn("unknown payment status", zap.String("orderID", id), zap.String("status", resp.Status))
		}
	}
}

func (s *Service) abandon(ctx context.Context, orderID, reason string) {
	if _, err := s.OnPaymentFailedOrAbandoned(ctx, orderID, reason); err != nil {
		s.logger.Warn("abandon payment error", zap.Error(err), zap.String("orderID", orderID))
		return
	}
	s.logger.Info("order cancelled on payment failure", zap.String("orderID", orderID), zap.String("reason", reason))
}

// HandlePaymentCallback применяет callback провайдера. Callback с неверной подписью
// трактуется как неуспешная оплата.
func (s *Service) HandlePaymentCallback(ctx context.Context, cb PaymentCallback) (*model.Order, error) {
	if s.verifier == nil {
		return nil, apperr.New(apperr.KindForbidden, "payment callbacks are not configured")
	}
	if cb.OrderID == "" {
		return nil, apperr.New(apperr.KindValidation, "order id is required")
	}

	if !s.verifier.Verify(cb.OrderID, cb.Status, cb.Reference, cb.Signature) {
		s.logger.Warn("payment callback signature mismatch", zap.String("orderID", cb.OrderID))
		return s.OnPaymentFailedOrAbandoned(ctx, cb.OrderID, "signature mismatch")
	}

	switch cb.Status {
	case payment.CallbackConfirmed:
		return s.OnPaymentConfirmed(ctx, cb.OrderID, cb.Reference)
	case payment.CallbackFailed, payment.CallbackAbandoned:
		reason := cb.Reason
		if reason == "" {
			reason = "provider reported " + cb.Status
		}
		return s.OnPaymentFailedOrAbandoned(ctx, cb.OrderID, reason)
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown payment status %q", cb.Status)
	}
}

// PaymentCallback описывает уведомление платёжного провайдера.
type PaymentCallback struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
	Signature string `json:"signature"`
}
