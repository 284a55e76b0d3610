package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
)

// MemoryRepository хранит товары и заказы в памяти процесса.
// Единица работы выполняется под общей блокировкой и при ошибке восстанавливает снимок состояния.
type MemoryRepository struct {
	mu       sync.Mutex
	products map[string]model.Product
	orders   map[string]*model.Order
}

// NewMemoryRepository создаёт репозиторий, заполненный указанными товарами.
func NewMemoryRepository(products ...model.Product) *MemoryRepository {
	r := &MemoryRepository{
		products: make(map[string]model.Product, len(products)),
		orders:   make(map[string]*model.Order),
	}
	for _, p := range products {
		r.products[p.ID] = cloneProduct(p)
	}
	return r
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// SaveProduct создаёт или заменяет товар каталога.
func (r *MemoryRepository) SaveProduct(_ context.Context, p model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = cloneProduct(p)
	return nil
}

// WithinTx выполняет fn атомарно относительно других единиц работы.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := make(map[string]model.Product, len(r.products))
	for id, p := range r.products {
		products[id] = cloneProduct(p)
	}
	orders := make(map[string]*model.Order, len(r.orders))
	for id, o := range r.orders {
		orders[id] = o.Clone()
	}

	if err := fn(ctx, &memTx{r: r}); err != nil {
		r.products = products
		r.orders = orders
		return err
	}
	return nil
}

// GetProducts возвращает товары по идентификаторам.
func (r *MemoryRepository) GetProducts(_ context.Context, ids []string) (map[string]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getProducts(ids), nil
}

// GetOrder возвращает копию заказа.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// GetOrdersByCustomer возвращает заказы покупателя, новые первыми.
func (r *MemoryRepository) GetOrdersByCustomer(_ context.Context, customerID int64) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			res = append(res, *o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// GetStalePendingPayments возвращает онлайн-заказы в PLACED с неподтверждённой оплатой, созданные до before.
func (r *MemoryRepository) GetStalePendingPayments(_ context.Context, before time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*model.Order
	for _, o := range r.orders {
		if o.Status == model.OrderStatusPlaced &&
			o.Payment.Method == model.PaymentMethodOnline &&
			o.Payment.Status == model.PaymentStatusPending &&
			o.CreatedAt.Before(before) {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})

	ids := make([]string, 0, len(stale))
	for _, o := range stale {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) getProducts(ids []string) map[string]model.Product {
	res := make(map[string]model.Product, len(ids))
	for _, id := range uniqueIDs(ids) {
		if p, ok := r.products[id]; ok {
			res[id] = cloneProduct(p)
		}
	}
	return res
}

func cloneProduct(p model.Product) model.Product {
	c := p
	c.BundleItems = slices.Clone(p.BundleItems)
	if p.DiscountPrice != nil {
		d := *p.DiscountPrice
		c.DiscountPrice = &d
	}
	if p.OfferPrice != nil {
		d := *p.OfferPrice
		c.OfferPrice = &d
	}
	return c
}

// memTx работает с состоянием репозитория напрямую: блокировка уже удерживается WithinTx.
type memTx struct {
	r *MemoryRepository
}

func (t *memTx) Reserve(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Wrap(apperr.ErrInvalidQuantity, "reserve quantity must be positive, got %d", qty)
	}
	p, ok := t.r.products[productID]
	if !ok {
		return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", productID)
	}
	if !p.Active {
		return apperr.Wrap(apperr.ErrProductInactive, "product %s is inactive", productID)
	}
	if p.IsBundle() {
		return apperr.Wrap(apperr.ErrInsufficientStock, "product %s is a bundle and holds no stock", productID)
	}
	if p.Stock < qty {
		return apperr.Wrap(apperr.ErrInsufficientStock, "insufficient stock for %s: requested %d, available %d", productID, qty, p.Stock)
	}
	p.Stock -= qty
	t.r.products[productID] = p
	return nil
}

func (t *memTx) Release(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	p, ok := t.r.products[productID]
	if !ok {
		return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", productID)
	}
	p.Stock += qty
	t.r.products[productID] = p
	return nil
}

func (t *memTx) AdjustSoldCount(_ context.Context, productID string, delta int) error {
	p, ok := t.r.products[productID]
	if !ok {
		return nil
	}
	p.SoldCount = max(p.SoldCount+delta, 0)
	t.r.products[productID] = p
	return nil
}

func (t *memTx) GetProducts(_ context.Context, ids []string) (map[string]model.Product, error) {
	return t.r.getProducts(ids), nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id string) (*model.Order, error) {
	o, ok := t.r.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (t *memTx) FindReplacementOrderID(_ context.Context, parentID string) (string, error) {
	for _, o := range t.r.orders {
		if o.IsReplacement && o.ParentOrderID == parentID {
			return o.ID, nil
		}
	}
	return "", nil
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	if _, ok := t.r.orders[o.ID]; ok {
		return apperr.Newf(apperr.KindDuplicateAction, "order %s already exists", o.ID)
	}
	if o.IsReplacement {
		if id, _ := t.FindReplacementOrderID(context.Background(), o.ParentOrderID); id != "" {
			return apperr.Wrap(apperr.ErrDuplicateAction, "replacement order already exists")
		}
	}
	t.r.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *model.Order) error {
	if _, ok := t.r.orders[o.ID]; !ok {
		return apperr.Wrap(apperr.ErrOrderNotFound, "order %s not found", o.ID)
	}
	t.r.orders[o.ID] = o.Clone()
	return nil
}
