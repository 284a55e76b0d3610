// Package service реализует жизненный цикл заказа и согласованность складских остатков.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/cache"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/payment"
	"github.com/mmeshcher/bundlemart/internal/repository"
	"github.com/mmeshcher/bundlemart/internal/review"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithinTx(ctx context.Context, fn repository.TxFunc) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error)
	GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error)
	GetStalePendingPayments(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// PaymentClient запрашивает состояние платежа у провайдера.
type PaymentClient interface {
	GetPaymentStatus(ctx context.Context, orderID string) (*payment.Status, int, time.Duration, error)
}

const (
	defaultAbandonAfter      = 30 * time.Minute
	defaultReconcileInterval = time.Minute
	reconcileBatchSize       = 100
)

// Service содержит бизнес-логику движка заказов.
type Service struct {
	repo      Repository
	logger    *zap.Logger
	cache     cache.OrderCache
	publisher events.Publisher
	purger    review.Purger
	payments  PaymentClient
	verifier  *payment.Verifier
	now       func() time.Time

	abandonAfter      time.Duration
	reconcileInterval time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш заказов.
func WithCache(c cache.OrderCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher подключает публикацию событий.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithReviewPurger подключает сервис отзывов.
func WithReviewPurger(p review.Purger) Option {
	return func(s *Service) { s.purger = p }
}

// WithPaymentClient подключает опрос платёжного провайдера при сверке.
func WithPaymentClient(c PaymentClient) Option {
	return func(s *Service) { s.payments = c }
}

// WithPaymentVerifier включает приём подписанных callback-ов провайдера.
func WithPaymentVerifier(v *payment.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReconciliation задаёт срок ожидания оплаты и период сверки.
func WithReconciliation(abandonAfter, interval time.Duration) Option {
	return func(s *Service) {
		if abandonAfter > 0 {
			s.abandonAfter = abandonAfter
		}
		if interval > 0 {
			s.reconcileInterval = interval
		}
	}
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:              repo,
		logger:            logger,
		cache:             cache.Noop{},
		publisher:         events.Noop{},
		purger:            review.Noop{},
		now:               time.Now,
		abandonAfter:      defaultAbandonAfter,
		reconcileInterval: defaultReconcileInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

type access int

const (
	accessOwner access = iota
	accessOperator
)

func authorize(actor model.Actor, o *model.Order, level access) error {
	if actor.IsOperator() {
		return nil
	}
	if level == accessOperator {
		return apperr.New(apperr.KindForbidden, "operator role required")
	}
	if actor.Role != model.RoleCustomer || !o.OwnedBy(actor.ID) {
		return apperr.Newf(apperr.KindForbidden, "order %s does not belong to the caller", o.ID)
	}
	return nil
}

type purgeJob struct {
	customerID int64
	productIDs []string
}

// unit накапливает последствия единицы работы, которые выполняются только после фиксации.
type unit struct {
	now     time.Time
	noop    bool
	touched []string
	events  []events.Event
	purges  []purgeJob
}

func (u *unit) touch(ids ...string) {
	u.touched = append(u.touched, ids...)
}

func (u *unit) emit(eventType string, o *model.Order, note string, lines []model.ProductQty) {
	u.events = append(u.events, events.NewEvent(eventType, o, note, lines))
}

type orderFunc func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error

// mutateOrder загружает заказ с блокировкой, проверяет доступ, применяет fn и сохраняет результат
// в одной транзакции. Если fn пометила единицу как noop, заказ не перезаписывается.
func (s *Service) mutateOrder(ctx context.Context, actor model.Actor, orderID string, level access, fn orderFunc) (*model.Order, error) {
	if orderID == "" {
		return nil, apperr.New(apperr.KindValidation, "order id is required")
	}

	u := &unit{now: s.now().UTC()}
	var result *model.Order

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(actor, o, level); err != nil {
			return err
		}
		if err := fn(ctx, tx, o, u); err != nil {
			return err
		}
		result = o
		if u.noop {
			return nil
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		u.touch(o.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, u)
	return result, nil
}

// afterCommit выполняет действия вне транзакции. Их сбой не отменяет зафиксированные изменения.
func (s *Service) afterCommit(ctx context.Context, u *unit) {
	if len(u.touched) > 0 {
		if err := s.cache.Invalidate(ctx, u.touched...); err != nil {
			s.logger.Warn("order cache invalidation error", zap.Error(err), zap.Strings("orderIDs", u.touched))
		}
	}

	if len(u.events) > 0 {
		s.publisher.Publish(ctx, u.events...)
	}

	for _, job := range u.purges {
		if err := s.purger.PurgeReviews(ctx, job.customerID, job.productIDs); err != nil {
			s.logger.Error("purge reviews error", zap.Error(err),
				zap.Int64("customerID", job.customerID), zap.Strings("productIDs", job.productIDs))
		}
	}
}
