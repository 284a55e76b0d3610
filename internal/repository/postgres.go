package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу товаров и заказов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет только чтения вне транзакций: изменения при сбое откатываются и не повторяются.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isConnectionError(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// classifyTxError переводит ошибки PostgreSQL в доменную таксономию.
func classifyTxError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return fmt.Errorf("%w: %w", apperr.ErrConcurrentUpdate, err)
	case pgerrcode.UniqueViolation:
		if pgErr.ConstraintName == "orders_one_replacement_per_parent" {
			return fmt.Errorf("%w: %w", apperr.Wrap(apperr.ErrDuplicateAction, "replacement order already exists"), err)
		}
	case pgerrcode.CheckViolation:
		if pgErr.ConstraintName == "products_stock_check" {
			return fmt.Errorf("%w: %w", apperr.ErrInsufficientStock, err)
		}
	}
	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в одной транзакции. Ошибка fn или коммита откатывает все изменения.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classifyTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError(fmt.Errorf("commit tx: %w", err))
	}

	return nil
}

// querier объединяет пул и транзакцию.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SaveProduct создаёт или обновляет товар каталога вместе с составом набора.
func (r *PostgresRepository) SaveProduct(ctx context.Context, p model.Product) error {
	return r.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		q := tx.(*pgTx).tx
		_, err := q.Exec(ctx,
			`INSERT INTO products (id, kind, title, slug, image, price, discount_price, offer_price,
			                       offer_starts_at, offer_ends_at, stock, sold_count, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (id) DO UPDATE SET
			     kind = EXCLUDED.kind, title = EXCLUDED.title, slug = EXCLUDED.slug, image = EXCLUDED.image,
			     price = EXCLUDED.price, discount_price = EXCLUDED.discount_price,
			     offer_price = EXCLUDED.offer_price, offer_starts_at = EXCLUDED.offer_starts_at,
			     offer_ends_at = EXCLUDED.offer_ends_at, stock = EXCLUDED.stock,
			     sold_count = EXCLUDED.sold_count, is_active = EXCLUDED.is_active, updated_at = now()`,
			p.ID, string(p.Kind), p.Title, p.Slug, p.Image, p.Price, nullDecimal(p.DiscountPrice), nullDecimal(p.OfferPrice),
			p.OfferStartsAt, p.OfferEndsAt, p.Stock, p.SoldCount, p.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM bundle_items WHERE bundle_id = $1`, p.ID); err != nil {
			return fmt.Errorf("delete bundle items: %w", err)
		}
		for i, item := range p.BundleItems {
			_, err := q.Exec(ctx,
				`INSERT INTO bundle_items (bundle_id, position, child_id, qty) VALUES ($1, $2, $3, $4)`,
				p.ID, i, item.ProductID, item.Qty,
			)
			if err != nil {
				return fmt.Errorf("insert bundle item: %w", err)
			}
		}
		return nil
	})
}

// GetProducts возвращает товары по идентификаторам. Отсутствующие товары в результат не попадают.
func (r *PostgresRepository) GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error) {
	var res map[string]model.Product
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = getProducts(ctx, r.pool, ids)
		return err
	})
	return res, err
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
		return err
	})
	return o, err
}

// GetOrdersByCustomer возвращает заказы покупателя, новые первыми.
func (r *PostgresRepository) GetOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error) {
	var orders []model.Order
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 WHERE customer_id = $1
			 ORDER BY created_at DESC`,
			customerID,
		)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		defer rows.Close()

		orders = orders[:0]
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			orders = append(orders, *o)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	return orders, err
}

// GetStalePendingPayments возвращает онлайн-заказы в PLACED с неподтверждённой оплатой, созданные до before.
func (r *PostgresRepository) GetStalePendingPayments(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM orders
		 WHERE status = $1 AND payment_status = $2 AND payment_method = $3 AND created_at < $4
		 ORDER BY created_at
		 LIMIT $5`,
		string(model.OrderStatusPlaced),
		string(model.PaymentStatusPending),
		string(model.PaymentMethodOnline),
		before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale payments: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Wrap(apperr.ErrInvalidQuantity, "reserve quantity must be positive, got %d", qty)
	}

	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE products
		 SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND kind = $3 AND is_active AND stock >= $2`,
		productID, qty, string(model.ProductKindSingle),
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	// Условие не выполнилось: уточняем причину для клиента.
	var (
		kind   string
		active bool
		stock  int
	)
	err = t.tx.QueryRow(ctx, `SELECT kind, is_active, stock FROM products WHERE id = $1`, productID).
		Scan(&kind, &active, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", productID)
		}
		return fmt.Errorf("inspect product: %w", err)
	}
	if !active {
		return apperr.Wrap(apperr.ErrProductInactive, "product %s is inactive", productID)
	}
	if model.ProductKind(kind) != model.ProductKindSingle {
		return apperr.Wrap(apperr.ErrInsufficientStock, "product %s is a bundle and holds no stock", productID)
	}
	return apperr.Wrap(apperr.ErrInsufficientStock, "insufficient stock for %s: requested %d, available %d", productID, qty, stock)
}

func (t *pgTx) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		productID, qty,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", productID)
	}
	return nil
}

func (t *pgTx) AdjustSoldCount(ctx context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE products SET sold_count = GREATEST(sold_count + $2, 0), updated_at = now() WHERE id = $1`,
		productID, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust sold count: %w", err)
	}
	return nil
}

func (t *pgTx) GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error) {
	return getProducts(ctx, t.tx, ids)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) FindReplacementOrderID(ctx context.Context, parentID string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM orders WHERE parent_order_id = $1 AND is_replacement LIMIT 1`,
		parentID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find replacement order: %w", err)
	}
	return id, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	doc, err := encodeOrderDoc(o)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO orders (id, customer_id, status, total, payment_method, payment_status, payment_reference,
		                     lines, shipping, history, return_request, sales_counted, sales_ledger,
		                     parent_order_id, replacement_order_id, is_replacement, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.CustomerID, string(o.Status), o.Total, string(o.Payment.Method), string(o.Payment.Status), o.Payment.Reference,
		doc.lines, doc.shipping, doc.history, doc.returnRequest, o.SalesCounted, doc.salesLedger,
		nullIfEmpty(o.ParentOrderID), nullIfEmpty(o.ReplacementOrderID), o.IsReplacement, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	doc, err := encodeOrderDoc(o)
	if err != nil {
		return err
	}
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, total = $3, payment_status = $4, payment_reference = $5,
		     lines = $6, history = $7, return_request = $8, sales_counted = $9, sales_ledger = $10,
		     replacement_order_id = $11, updated_at = $12
		 WHERE id = $1`,
		o.ID, string(o.Status), o.Total, string(o.Payment.Status), o.Payment.Reference,
		doc.lines, doc.history, doc.returnRequest, o.SalesCounted, doc.salesLedger,
		nullIfEmpty(o.ReplacementOrderID), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrOrderNotFound, "order %s not found", o.ID)
	}
	return nil
}

func getProducts(ctx context.Context, q querier, ids []string) (map[string]model.Product, error) {
	res := make(map[string]model.Product, len(ids))
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return res, nil
	}

	rows, err := q.Query(ctx,
		`SELECT id, kind, title, slug, image, price, discount_price, offer_price,
		        offer_starts_at, offer_ends_at, stock, sold_count, is_active
		 FROM products
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        model.Product
			kind     string
			discount decimal.NullDecimal
			offer    decimal.NullDecimal
		)
		if err := rows.Scan(&p.ID, &kind, &p.Title, &p.Slug, &p.Image, &p.Price, &discount, &offer,
			&p.OfferStartsAt, &p.OfferEndsAt, &p.Stock, &p.SoldCount, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Kind = model.ProductKind(kind)
		if discount.Valid {
			p.DiscountPrice = &discount.Decimal
		}
		if offer.Valid {
			p.OfferPrice = &offer.Decimal
		}
		res[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	itemRows, err := q.Query(ctx,
		`SELECT bundle_id, child_id, qty
		 FROM bundle_items
		 WHERE bundle_id = ANY($1)
		 ORDER BY bundle_id, position`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select bundle items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var bundleID string
		var item model.BundleItem
		if err := itemRows.Scan(&bundleID, &item.ProductID, &item.Qty); err != nil {
			return nil, fmt.Errorf("scan bundle item: %w", err)
		}
		p, ok := res[bundleID]
		if !ok {
			continue
		}
		p.BundleItems = append(p.BundleItems, item)
		res[bundleID] = p
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const orderColumns = `id, customer_id, status, total, payment_method, payment_status, payment_reference,
	lines, shipping, history, return_request, sales_counted, sales_ledger,
	parent_order_id, replacement_order_id, is_replacement, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		status        string
		method        string
		paymentStatus string
		lines         []byte
		shipping      []byte
		history       []byte
		returnRequest []byte
		salesLedger   []byte
		parentID      *string
		replacementID *string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &status, &o.Total, &method, &paymentStatus, &o.Payment.Reference,
		&lines, &shipping, &history, &returnRequest, &o.SalesCounted, &salesLedger,
		&parentID, &replacementID, &o.IsReplacement, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	o.Payment.Method = model.PaymentMethod(method)
	o.Payment.Status = model.PaymentStatus(paymentStatus)
	if parentID != nil {
		o.ParentOrderID = *parentID
	}
	if replacementID != nil {
		o.ReplacementOrderID = *replacementID
	}

	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"lines", lines, &o.Lines},
		{"shipping", shipping, &o.Shipping},
		{"history", history, &o.History},
		{"return_request", returnRequest, &o.ReturnRequest},
		{"sales_ledger", salesLedger, &o.SalesLedger},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", f.name, err)
		}
	}

	return &o, nil
}

type orderDoc struct {
	lines         []byte
	shipping      []byte
	history       []byte
	returnRequest []byte
	salesLedger   []byte
}

func encodeOrderDoc(o *model.Order) (orderDoc, error) {
	var (
		doc orderDoc
		err error
	)
	if doc.lines, err = json.Marshal(o.Lines); err != nil {
		return doc, fmt.Errorf("encode lines: %w", err)
	}
	if doc.shipping, err = json.Marshal(o.Shipping); err != nil {
		return doc, fmt.Errorf("encode shipping: %w", err)
	}
	if doc.history, err = json.Marshal(o.History); err != nil {
		return doc, fmt.Errorf("encode history: %w", err)
	}
	if doc.returnRequest, err = json.Marshal(o.ReturnRequest); err != nil {
		return doc, fmt.Errorf("encode return request: %w", err)
	}
	salesLedger := o.SalesLedger
	if salesLedger == nil {
		salesLedger = []model.SalesEntry{}
	}
	if doc.salesLedger, err = json.Marshal(salesLedger); err != nil {
		return doc, fmt.Errorf("encode sales ledger: %w", err)
	}
	return doc, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
