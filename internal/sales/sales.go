// Package sales ведёт учёт вклада заказов в счётчики продаж товаров.
package sales

import "github.com/mmeshcher/bundlemart/internal/model"

// Delta описывает изменение счётчика продаж товара. Отрицательное значение означает откат.
type Delta struct {
	ProductID string
	Qty       int
}

// Count учитывает продажи заказа при первом переходе в DELIVERED с оплатой PAID.
// Повторный вызов ничего не возвращает.
func Count(o *model.Order) []Delta {
	if o.SalesCounted || o.Status != model.OrderStatusDelivered || o.Payment.Status != model.PaymentStatusPaid {
		return nil
	}

	ledger := make([]model.SalesEntry, 0, len(o.Lines))
	index := make(map[string]int, len(o.Lines))
	for _, l := range o.Lines {
		i, ok := index[l.ProductID]
		if !ok {
			i = len(ledger)
			index[l.ProductID] = i
			ledger = append(ledger, model.SalesEntry{ProductID: l.ProductID})
		}
		if active := l.Eligible(); active > 0 {
			ledger[i].Counted += active
		}
		ledger[i].ReturnedAtCount += l.ReturnedQty
	}

	o.SalesCounted = true
	o.SalesLedger = ledger

	deltas := make([]Delta, 0, len(ledger))
	for _, e := range ledger {
		if e.Counted > 0 {
			deltas = append(deltas, Delta{ProductID: e.ProductID, Qty: e.Counted})
		}
	}
	return deltas
}

// Rollback откатывает продажи по возвращённому количеству, ещё не учтённому в журнале откатов.
// Суммарный откат по товару не превышает исходного вклада заказа.
func Rollback(o *model.Order) []Delta {
	if !o.SalesCounted {
		return nil
	}

	returned := make(map[string]int, len(o.Lines))
	for _, l := range o.Lines {
		returned[l.ProductID] += l.ReturnedQty
	}

	var deltas []Delta
	for i := range o.SalesLedger {
		e := &o.SalesLedger[i]
		target := returned[e.ProductID] - e.ReturnedAtCount
		if target > e.Counted {
			target = e.Counted
		}
		pending := target - e.RolledBack
		if pending <= 0 {
			continue
		}
		e.RolledBack += pending
		deltas = append(deltas, Delta{ProductID: e.ProductID, Qty: -pending})
	}
	return deltas
}
