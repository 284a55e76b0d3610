package model

import "github.com/mmeshcher/bundlemart/internal/apperr"

// OrderStatus описывает статус заказа верхнего уровня.
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "PLACED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusReturned  OrderStatus = "RETURNED"
	OrderStatusReplaced  OrderStatus = "REPLACED"
)

// IsValid проверяет, что статус известен.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusReturned, OrderStatusReplaced:
		return true
	}
	return false
}

// IsTerminal сообщает, что заказ больше не меняет статус.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned || s == OrderStatusReplaced
}

// IsCancellable сообщает, что заказ ещё не отгружен.
func (s OrderStatus) IsCancellable() bool {
	return s == OrderStatusPlaced || s == OrderStatusConfirmed
}

// Effect описывает побочные эффекты перехода.
type Effect uint8

const (
	// EffectNoop: запрошен текущий статус, ничего не меняется.
	EffectNoop Effect = 1 << iota
	// EffectReleaseStock: вернуть на склад допустимое количество всех строк.
	EffectReleaseStock
	// EffectCountSales: учесть продажи, если заказ оплачен.
	EffectCountSales
	// EffectRefundParent: пометить оплату родительского заказа возвращённой.
	EffectRefundParent
	// EffectKeepStatus: выполнить эффекты без смены статуса.
	EffectKeepStatus
)

// Has проверяет наличие эффекта.
func (e Effect) Has(f Effect) bool {
	return e&f != 0
}

type transitionKey struct {
	from        OrderStatus
	to          OrderStatus
	replacement bool
}

// transitions содержит все допустимые операторские переходы.
var transitions = map[transitionKey]Effect{
	{OrderStatusPlaced, OrderStatusConfirmed, false}:    0,
	{OrderStatusPlaced, OrderStatusCancelled, false}:    EffectReleaseStock,
	{OrderStatusConfirmed, OrderStatusShipped, false}:   0,
	{OrderStatusConfirmed, OrderStatusCancelled, false}: EffectReleaseStock,
	{OrderStatusShipped, OrderStatusDelivered, false}:   EffectCountSales,

	{OrderStatusPlaced, OrderStatusConfirmed, true}:    0,
	{OrderStatusPlaced, OrderStatusCancelled, true}:    EffectReleaseStock | EffectRefundParent,
	{OrderStatusConfirmed, OrderStatusShipped, true}:   0,
	{OrderStatusConfirmed, OrderStatusCancelled, true}: EffectReleaseStock | EffectRefundParent,
	{OrderStatusShipped, OrderStatusDelivered, true}:   EffectCountSales,
	// Отменённая замена по-прежнему возвращает деньги родителю.
	{OrderStatusCancelled, OrderStatusCancelled, true}: EffectRefundParent | EffectKeepStatus,
}

// Transition проверяет переход from→to и возвращает его эффекты.
// Охранные условия проверяются в порядке приоритета до обращения к таблице.
func Transition(from, to OrderStatus, isReplacement bool) (Effect, error) {
	if !to.IsValid() {
		return 0, apperr.Newf(apperr.KindValidation, "unknown order status %q", to)
	}

	key := transitionKey{from: from, to: to, replacement: isReplacement}

	if from == OrderStatusDelivered {
		if to == OrderStatusDelivered {
			return EffectNoop, nil
		}
		return 0, apperr.Newf(apperr.KindStateConflict,
			"delivered order cannot move to %s; returns and replacements go through the return workflow", to)
	}

	if from.IsTerminal() {
		if e, ok := transitions[key]; ok {
			return e, nil
		}
		return 0, apperr.Newf(apperr.KindStateConflict, "order is %s and cannot change status", from)
	}

	if to == OrderStatusCancelled && !from.IsCancellable() {
		return 0, apperr.Newf(apperr.KindStateConflict, "order in %s cannot be cancelled", from)
	}

	if to == OrderStatusReturned || to == OrderStatusReplaced {
		return 0, apperr.Newf(apperr.KindStateConflict, "status %s is set by the return workflow", to)
	}

	if from == to {
		return EffectNoop, nil
	}

	e, ok := transitions[key]
	if !ok {
		return 0, apperr.Newf(apperr.KindStateConflict, "transition %s -> %s is not allowed", from, to)
	}
	return e, nil
}
