// Package model содержит доменные сущности движка заказов bundlemart.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role определяет роль участника запроса.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// Actor описывает инициатора операции.
type Actor struct {
	ID   int64
	Role Role
}

// IsOperator сообщает, может ли участник выполнять операторские действия.
func (a Actor) IsOperator() bool {
	return a.Role == RoleOperator || a.Role == RoleSystem
}

// SystemActor используется обработчиками платёжных callback-ов и фоновыми процессами.
var SystemActor = Actor{Role: RoleSystem}

// ProductKind различает обычные товары и наборы.
type ProductKind string

const (
	ProductKindSingle ProductKind = "SINGLE"
	ProductKindBundle ProductKind = "BUNDLE"
)

// OfferKind описывает, какая цена применилась к строке заказа.
type OfferKind string

const (
	OfferKindNone     OfferKind = "NONE"
	OfferKindDiscount OfferKind = "DISCOUNT"
	OfferKindOffer    OfferKind = "OFFER"
)

// BundleItem связывает набор с дочерним товаром и количеством на один набор.
type BundleItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Product представляет товар каталога. Остаток имеет смысл только для SINGLE.
type Product struct {
	ID            string
	Kind          ProductKind
	Title         string
	Slug          string
	Image         string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	OfferPrice    *decimal.Decimal
	OfferStartsAt *time.Time
	OfferEndsAt   *time.Time
	Stock         int
	SoldCount     int
	Active        bool
	BundleItems   []BundleItem
}

// IsBundle сообщает, является ли товар набором.
func (p Product) IsBundle() bool {
	return p.Kind == ProductKindBundle
}

// EffectivePrice возвращает цену продажи на момент now и вид применённой скидки.
// Акционная цена действует внутри окна, затем скидочная, если она ниже базовой.
func (p Product) EffectivePrice(now time.Time) (decimal.Decimal, OfferKind) {
	if p.OfferPrice != nil && p.OfferStartsAt != nil && p.OfferEndsAt != nil &&
		!now.Before(*p.OfferStartsAt) && now.Before(*p.OfferEndsAt) && p.OfferPrice.IsPositive() {
		return *p.OfferPrice, OfferKindOffer
	}
	if p.DiscountPrice != nil && p.DiscountPrice.IsPositive() && p.DiscountPrice.LessThan(p.Price) {
		return *p.DiscountPrice, OfferKindDiscount
	}
	return p.Price, OfferKindNone
}

// ProductQty задаёт пару «товар, количество», используемая в запросах и журналах.
type ProductQty struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

// Availability описывает доступный к продаже остаток товара.
type Availability struct {
	ProductID string      `json:"product_id"`
	Kind      ProductKind `json:"kind"`
	Active    bool        `json:"active"`
	Available int         `json:"available"`
}
