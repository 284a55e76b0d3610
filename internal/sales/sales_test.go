package sales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/model"
)

func deliveredPaid(lines ...model.OrderLine) *model.Order {
	return &model.Order{
		Status:  model.OrderStatusDelivered,
		Payment: model.Payment{Method: model.PaymentMethodOnline, Status: model.PaymentStatusPaid},
		Lines:   lines,
	}
}

func TestCount_OnceOnly(t *testing.T) {
	o := deliveredPaid(model.OrderLine{ProductID: "p", Qty: 3})

	deltas := Count(o)
	assert.Equal(t, []Delta{{ProductID: "p", Qty: 3}}, deltas)
	assert.True(t, o.SalesCounted)

	assert.Nil(t, Count(o))
}

func TestCount_SkipsUnpaidOrUndelivered(t *testing.T) {
	o := deliveredPaid(model.OrderLine{ProductID: "p", Qty: 1})
	o.Payment.Status = model.PaymentStatusPending
	assert.Nil(t, Count(o))
	assert.False(t, o.SalesCounted)

	o = deliveredPaid(model.OrderLine{ProductID: "p", Qty: 1})
	o.Status = model.OrderStatusShipped
	assert.Nil(t, Count(o))
}

func TestCount_UsesActiveQuantity(t *testing.T) {
	o := deliveredPaid(
		model.OrderLine{ProductID: "p", Qty: 5, CancelledQty: 2},
		model.OrderLine{ProductID: "q", Qty: 1, CancelledQty: 1},
	)

	deltas := Count(o)
	assert.Equal(t, []Delta{{ProductID: "p", Qty: 3}}, deltas)
	require.Len(t, o.SalesLedger, 2)
	assert.Equal(t, 0, o.SalesLedger[1].Counted)
}

func TestRollback_PartialReturnAndReplay(t *testing.T) {
	o := deliveredPaid(model.OrderLine{ProductID: "p", Qty: 3})
	Count(o)

	o.Lines[0].ReturnedQty = 2
	deltas := Rollback(o)
	assert.Equal(t, []Delta{{ProductID: "p", Qty: -2}}, deltas)
	assert.Equal(t, []model.ProductQty{{ProductID: "p", Qty: 2}}, o.SalesRolledBack())

	assert.Nil(t, Rollback(o), "replay must not roll back twice")

	o.Lines[0].ReturnedQty = 3
	deltas = Rollback(o)
	assert.Equal(t, []Delta{{ProductID: "p", Qty: -1}}, deltas)
}

func TestRollback_BoundedByContribution(t *testing.T) {
	o := deliveredPaid(model.OrderLine{ProductID: "p", Qty: 4, CancelledQty: 1, ReturnedQty: 1})
	Count(o)
	require.Equal(t, 2, o.SalesLedger[0].Counted)

	o.Lines[0].ReturnedQty = 3
	assert.Equal(t, []Delta{{ProductID: "p", Qty: -2}}, Rollback(o))

	// Искусственно завышенный возврат не выводит откат за пределы вклада.
	o.Lines[0].ReturnedQty = 10
	assert.Nil(t, Rollback(o))
	assert.Equal(t, 2, o.SalesLedger[0].RolledBack)
}

func TestRollback_NotCounted(t *testing.T) {
	o := deliveredPaid(model.OrderLine{ProductID: "p", Qty: 3, ReturnedQty: 3})
	assert.Nil(t, Rollback(o))
}
