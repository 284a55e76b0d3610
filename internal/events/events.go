// Package events публикует события жизненного цикла заказа.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/bundlemart/internal/model"
)

// Типы событий.
const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCancelled     = "OrderCancelled"
	EventItemsCancelled     = "ItemsCancelled"
	EventReturnRequested    = "ReturnRequested"
	EventReturnWithdrawn    = "ReturnWithdrawn"
	EventReturnDecided      = "ReturnDecided"
	EventReturnCompleted    = "ReturnCompleted"
	EventReplacementCreated = "ReplacementCreated"
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventPaymentFailed      = "PaymentFailed"
)

const (
	eventVersion = 1
	producerName = "bundlemart"
)

// Envelope описывает версионированную обёртку события.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderPayload хранит снимок заказа на момент события.
type OrderPayload struct {
	OrderID       string              `json:"order_id"`
	CustomerID    int64               `json:"customer_id"`
	Status        model.OrderStatus   `json:"status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	ReturnStatus  model.ReturnStatus  `json:"return_status"`
	Total         string              `json:"total"`
	Lines         []model.ProductQty  `json:"lines,omitempty"`
	ParentOrderID string              `json:"parent_order_id,omitempty"`
	Note          string              `json:"note,omitempty"`
}

// Event описывает событие, готовое к публикации.
type Event struct {
	Type  string
	Order OrderPayload
}

// NewEvent строит событие по состоянию заказа. lines уточняет затронутые строки, если действие частичное.
func NewEvent(eventType string, o *model.Order, note string, lines []model.ProductQty) Event {
	return Event{
		Type: eventType,
		Order: OrderPayload{
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			Status:        o.Status,
			PaymentStatus: o.Payment.Status,
			ReturnStatus:  o.ReturnRequest.Status,
			Total:         o.Total.StringFixed(2),
			Lines:         lines,
			ParentOrderID: o.ParentOrderID,
			Note:          note,
		},
	}
}

// Encode упаковывает событие в Envelope.
func Encode(e Event, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(e.Order)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	b, err := json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		EventType:     e.Type,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      producerName,
		CorrelationID: e.Order.OrderID,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Publisher доставляет события после фиксации изменений. Публикация не блокирует операцию.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Noop отбрасывает события.
type Noop struct{}

func (Noop) Publish(_ context.Context, _ ...Event) {}
