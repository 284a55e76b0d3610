package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCOD         PaymentMethod = "COD"
	PaymentMethodOnline      PaymentMethod = "ONLINE"
	PaymentMethodReplacement PaymentMethod = "REPLACEMENT"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Payment содержит сведения об оплате заказа.
type Payment struct {
	Method    PaymentMethod `json:"method"`
	Status    PaymentStatus `json:"status"`
	Reference string        `json:"reference,omitempty"`
}

// Shipping хранит снимок адреса доставки на момент оформления.
type Shipping struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country,omitempty"`
}

// StatusEntry описывает неизменяемую запись истории статусов.
type StatusEntry struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	Note   string      `json:"note,omitempty"`
}

// OrderLine описывает строку заказа со снимками цены и счётчиками частичного исполнения.
type OrderLine struct {
	ProductID    string          `json:"product_id"`
	Kind         ProductKind     `json:"kind"`
	Title        string          `json:"title"`
	Slug         string          `json:"slug"`
	Image        string          `json:"image,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	StrikePrice  decimal.Decimal `json:"strike_price"`
	OfferKind    OfferKind       `json:"offer_kind"`
	Qty          int             `json:"qty"`
	CancelledQty int             `json:"cancelled_qty"`
	ReturnedQty  int             `json:"returned_qty"`
	ReplacedQty  int             `json:"replaced_qty"`
}

// Eligible возвращает количество, над которым ещё можно выполнять действия.
func (l OrderLine) Eligible() int {
	return l.Qty - l.CancelledQty - l.ReturnedQty - l.ReplacedQty
}

// RequestType различает возврат и замену.
type RequestType string

const (
	RequestTypeReturn      RequestType = "RETURN"
	RequestTypeReplacement RequestType = "REPLACEMENT"
)

// ReturnStatus описывает состояние заявки на возврат или замену.
type ReturnStatus string

const (
	ReturnStatusNone      ReturnStatus = "NONE"
	ReturnStatusRequested ReturnStatus = "REQUESTED"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusRejected  ReturnStatus = "REJECTED"
	ReturnStatusCompleted ReturnStatus = "COMPLETED"
)

// IsOpen сообщает, что по заявке ещё не принято окончательное решение.
func (s ReturnStatus) IsOpen() bool {
	return s == ReturnStatusRequested || s == ReturnStatusApproved
}

// ReturnRequest описывает заявку покупателя на возврат или замену части строк заказа.
type ReturnRequest struct {
	Status       ReturnStatus `json:"status"`
	Type         RequestType  `json:"type,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Lines        []ProductQty `json:"lines,omitempty"`
	RequestedAt  *time.Time   `json:"requested_at,omitempty"`
	DecidedBy    int64        `json:"decided_by,omitempty"`
	DecidedAt    *time.Time   `json:"decided_at,omitempty"`
	DecisionNote string       `json:"decision_note,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// SalesEntry хранит вклад заказа в счётчик продаж по одному товару.
// ReturnedAtCount фиксирует уже возвращённое на момент учёта, чтобы откат не превышал вклад.
type SalesEntry struct {
	ProductID       string `json:"product_id"`
	Counted         int    `json:"counted"`
	ReturnedAtCount int    `json:"returned_at_count"`
	RolledBack      int    `json:"rolled_back"`
}

// Order представляет агрегат заказа.
type Order struct {
	ID                 string          `json:"id"`
	CustomerID         int64           `json:"customer_id"`
	Lines              []OrderLine     `json:"lines"`
	Shipping           Shipping        `json:"shipping"`
	Total              decimal.Decimal `json:"total"`
	Payment            Payment         `json:"payment"`
	Status             OrderStatus     `json:"status"`
	History            []StatusEntry   `json:"history"`
	ParentOrderID      string          `json:"parent_order_id,omitempty"`
	ReplacementOrderID string          `json:"replacement_order_id,omitempty"`
	IsReplacement      bool            `json:"is_replacement"`
	ReturnRequest      ReturnRequest   `json:"return_request"`
	SalesCounted       bool            `json:"sales_counted"`
	SalesLedger        []SalesEntry    `json:"sales_ledger,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Line возвращает строку заказа по товару.
func (o *Order) Line(productID string) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			return &o.Lines[i]
		}
	}
	return nil
}

// RecomputeTotal пересчитывает сумму заказа: Σ(qty−cancelledQty)×unitPrice.
func (o *Order) RecomputeTotal() {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty - l.CancelledQty))))
	}
	o.Total = total
}

// AppendHistory добавляет запись в историю и обновляет статус.
func (o *Order) AppendHistory(status OrderStatus, note string, at time.Time) {
	o.Status = status
	o.History = append(o.History, StatusEntry{Status: status, At: at, Note: note})
	o.UpdatedAt = at
}

// Note добавляет запись в историю без смены статуса.
func (o *Order) Note(note string, at time.Time) {
	o.AppendHistory(o.Status, note, at)
}

// FullyCancelled сообщает, что все строки отменены целиком.
func (o *Order) FullyCancelled() bool {
	for _, l := range o.Lines {
		if l.CancelledQty < l.Qty {
			return false
		}
	}
	return true
}

// FullyReturned сообщает, что возвращено всё доставленное: отменённое до отгрузки не учитывается.
func (o *Order) FullyReturned() bool {
	returned := 0
	for _, l := range o.Lines {
		if l.ReturnedQty < l.Qty-l.CancelledQty {
			return false
		}
		returned += l.ReturnedQty
	}
	return returned > 0
}

// FullyReplaced сообщает, что заменено всё доставленное.
func (o *Order) FullyReplaced() bool {
	replaced := 0
	for _, l := range o.Lines {
		if l.ReplacedQty < l.Qty-l.CancelledQty {
			return false
		}
		replaced += l.ReplacedQty
	}
	return replaced > 0
}

// SalesRolledBack возвращает журнал откатов продаж в виде пар «товар, количество».
func (o *Order) SalesRolledBack() []ProductQty {
	res := make([]ProductQty, 0, len(o.SalesLedger))
	for _, e := range o.SalesLedger {
		if e.RolledBack > 0 {
			res = append(res, ProductQty{ProductID: e.ProductID, Qty: e.RolledBack})
		}
	}
	return res
}

// OwnedBy сообщает, принадлежит ли заказ покупателю.
func (o *Order) OwnedBy(customerID int64) bool {
	return o.CustomerID == customerID
}

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	c.History = append([]StatusEntry(nil), o.History...)
	c.SalesLedger = append([]SalesEntry(nil), o.SalesLedger...)
	c.ReturnRequest.Lines = append([]ProductQty(nil), o.ReturnRequest.Lines...)
	return &c
}
