package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/payment"
)

type stubPaymentResponse struct {
	status     *payment.Status
	code       int
	retryAfter time.Duration
	err        error
}

type stubPaymentClient struct {
	mu        sync.Mutex
	responses map[string]stubPaymentResponse
	requested []string
}

func (c *stubPaymentClient) GetPaymentStatus(_ context.Context, orderID string) (*payment.Status, int, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, orderID)
	r, ok := c.responses[orderID]
	if !ok {
		return nil, http.StatusNoContent, 0, nil
	}
	return r.status, r.code, r.retryAfter, r.err
}

func TestOnPaymentConfirmed(t *testing.T) {
	f := newFixture(t, single("p", 5, "100"))
	o := f.place(t, model.PaymentMethodOnline, qty("p", 1))

	o, err := f.svc.OnPaymentConfirmed(context.Background(), o.ID, "pay-42")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, o.Status)
	assert.Equal(t, model.PaymentStatusPaid, o.Payment.Status)
	assert.Equal(t, "pay-42", o.Payment.Reference)
	historyLen := len(o.History)

	o, err = f.svc.OnPaymentConfirmed(context.Background(), o.ID, "pay-43")
	require.NoError(t, err)
	assert.Len(t, o.History, historyLen)
	assert.Equal(t, "pay-42", f.order(t, o.ID).Payment.Reference)

	_, err = f.svc.OnPaymentFailedOrAbandoned(context.Background(), o.ID, "late failure")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
	assert.Equal(t, model.OrderStatusConfirmed, f.order(t, o.ID).Status)
}

func TestOnPaymentFailed_CancelsAndReleases(t *testing.T) {
	f := newFixture(t, single("p", 5, "100"))
	o := f.place(t, model.PaymentMethodOnline, qty("p", 2))
	require.Equal(t, 3, f.product(t, "p").Stock)

	o, err := f.svc.OnPaymentFailedOrAbandoned(context.Background(), o.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, model.PaymentStatusFailed, o.Payment.Status)
	assert.True(t, o.Total.IsZero())
	assert.Equal(t, 5, f.product(t, "p").Stock)

	o, err = f.svc.OnPaymentFailedOrAbandoned(context.Background(), o.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, 5, f.product(t, "p").Stock)

	_, err = f.svc.OnPaymentConfirmed(context.Background(), o.ID, "too late")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
}

func TestOnPaymentFailed_CancelledByCustomerFirst(t *testing.T) {
	f := newFixture(t, single("p", 5, "100"))
	o := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	_, err := f.svc.CancelOrder(context.Background(), customer, o.ID, "")
	require.NoError(t, err)

	o, err = f.svc.OnPaymentFailedOrAbandoned(context.Background(), o.ID, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, model.PaymentStatusFailed, o.Payment.Status)
	assert.Equal(t, 5, f.product(t, "p").Stock)
}

func TestOnPaymentFailed_AfterShipment(t *testing.T) {
	f := newFixture(t, single("p", 5, "100"))
	o := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	f.setStatus(t, o.ID, model.OrderStatusConfirmed, model.OrderStatusShipped)

	_, err := f.svc.OnPaymentFailedOrAbandoned(context.Background(), o.ID, "")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
	assert.Equal(t, 4, f.product(t, "p").Stock)
}

func TestReconcileBatch_WithoutProviderAbandonsStaleOrders(t *testing.T) {
	f := newFixture(t, single("p", 10, "100"))
	stale := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	cod := f.place(t, model.PaymentMethodCOD, qty("p", 1))

	f.clock = testNow.Add(time.Hour)
	fresh := f.place(t, model.PaymentMethodOnline, qty("p", 1))

	f.svc.reconcileBatch(context.Background())

	assert.Equal(t, model.OrderStatusCancelled, f.order(t, stale.ID).Status)
	assert.Equal(t, model.PaymentStatusFailed, f.order(t, stale.ID).Payment.Status)
	assert.Equal(t, model.OrderStatusPlaced, f.order(t, cod.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, f.order(t, fresh.ID).Status)
	assert.Equal(t, 8, f.product(t, "p").Stock)
}

func TestReconcileBatch_UsesProviderStatus(t *testing.T) {
	f := newFixture(t, single("p", 10, "100"))
	paid := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	failed := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	pending := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	unknown := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	throttled := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	broken := f.place(t, model.PaymentMethodOnline, qty("p", 1))

	client := &stubPaymentClient{responses: map[string]stubPaymentResponse{
		paid.ID:      {status: &payment.Status{OrderID: paid.ID, Status: payment.ProviderStatusPaid, Reference: "ref-1"}, code: http.StatusOK},
		failed.ID:    {status: &payment.Status{OrderID: failed.ID, Status: payment.ProviderStatusExpired}, code: http.StatusOK},
		pending.ID:   {status: &payment.Status{OrderID: pending.ID, Status: payment.ProviderStatusPending}, code: http.StatusOK},
		throttled.ID: {code: http.StatusTooManyRequests},
		broken.ID:    {err: errors.New("connection refused")},
	}}
	f.svc.payments = client
	f.clock = testNow.Add(time.Hour)

	f.svc.reconcileBatch(context.Background())

	o := f.order(t, paid.ID)
	assert.Equal(t, model.OrderStatusConfirmed, o.Status)
	assert.Equal(t, model.PaymentStatusPaid, o.Payment.Status)
	assert.Equal(t, "ref-1", o.Payment.Reference)

	assert.Equal(t, model.OrderStatusCancelled, f.order(t, failed.ID).Status)
	assert.Equal(t, model.OrderStatusCancelled, f.order(t, unknown.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, f.order(t, pending.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, f.order(t, throttled.ID).Status)
	assert.Equal(t, model.OrderStatusPlaced, f.order(t, broken.ID).Status)

	assert.Len(t, client.requested, 6)
	assert.Equal(t, 6, f.product(t, "p").Stock)
}

func TestRunPaymentReconciliation_StopsOnCancel(t *testing.T) {
	f := newFixture(t, single("p", 10, "100"))
	stale := f.place(t, model.PaymentMethodOnline, qty("p", 1))
	f.clock = testNow.Add(time.Hour)
	WithReconciliation(time.Minute, 10*time.Millisecond)(f.svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.svc.RunPaymentReconciliation(ctx)
	}()

	require.Eventually(t, func() bool {
		o, err := f.repo.GetOrder(context.Background(), stale.ID)
		return err == nil && o.Status == model.OrderStatusCancelled
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciliation did not stop")
	}
}

func TestHandlePaymentCallback(t *testing.T) {
	verifier := payment.NewVerifier("callback-secret")

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t, single("p", 5, "100"))
		WithPaymentVerifier(verifier)(f.svc)
		o := f.place(t, model.PaymentMethodOnline, qty("p", 1))

		o, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallback{
			OrderID:   o.ID,
			Status:    payment.CallbackConfirmed,
			Reference: "ref-7",
			Signature: verifier.Sign(o.ID, payment.CallbackConfirmed, "ref-7"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusConfirmed, o.Status)
		assert.Equal(t, "ref-7", o.Payment.Reference)
	})

	t.Run("abandoned", func(t *testing.T) {
		f := newFixture(t, single("p", 5, "100"))
		WithPaymentVerifier(verifier)(f.svc)
		o := f.place(t, model.PaymentMethodOnline, qty("p", 1))

		o, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallback{
			OrderID:   o.ID,
			Status:    payment.CallbackAbandoned,
			Signature: verifier.Sign(o.ID, payment.CallbackAbandoned, ""),
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, o.Status)
		assert.Equal(t, 5, f.product(t, "p").Stock)
	})

	t.Run("signature mismatch cancels", func(t *testing.T) {
		f := newFixture(t, single("p", 5, "100"))
		WithPaymentVerifier(verifier)(f.svc)
		o := f.place(t, model.PaymentMethodOnline, qty("p", 1))

		o, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallback{
			OrderID:   o.ID,
			Status:    payment.CallbackConfirmed,
			Reference: "ref-7",
			Signature: payment.NewVerifier("other").Sign(o.ID, payment.CallbackConfirmed, "ref-7"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, o.Status)
		assert.Equal(t, model.PaymentStatusFailed, o.Payment.Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t, single("p", 5, "100"))
		WithPaymentVerifier(verifier)(f.svc)
		o := f.place(t, model.PaymentMethodOnline, qty("p", 1))

		_, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallback{
			OrderID:   o.ID,
			Status:    "REVERSED",
			Signature: verifier.Sign(o.ID, "REVERSED", ""),
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, model.OrderStatusPlaced, f.order(t, o.ID).Status)
	})

	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallback{OrderID: "x"})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})
}
