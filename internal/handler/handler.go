// Package handler содержит HTTP-обработчики API сервиса bundlemart.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/middleware"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, actor model.Actor, in service.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	GetOrdersByCustomer(ctx context.Context, actor model.Actor) ([]model.Order, error)
	GetProductAvailability(ctx context.Context, productID string) (*model.Availability, error)
	SetOrderStatus(ctx context.Context, actor model.Actor, orderID string, target model.OrderStatus, note string) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Actor, orderID, reason string) (*model.Order, error)
	CancelItems(ctx context.Context, actor model.Actor, orderID string, lines []model.ProductQty, reason string) (*model.Order, error)
	RequestReturnOrReplacement(ctx context.Context, actor model.Actor, orderID string, in service.ReturnRequestInput) (*model.Order, error)
	CancelReturnRequest(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error)
	DecideReturnOrReplacement(ctx context.Context, actor model.Actor, orderID string, decision service.Decision, note string) (*model.Order, error)
	CompleteReturnOrReplacement(ctx context.Context, actor model.Actor, orderID, note string) (*model.Order, error)
	HandlePaymentCallback(ctx context.Context, cb service.PaymentCallback) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса bundlemart.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Kind   apperr.Kind `json:"kind"`
	Code   string      `json:"code,omitempty"`
	Reason string      `json:"reason"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindStateConflict, apperr.KindInsufficientStock, apperr.KindDuplicateAction:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отдаёт доменную ошибку в виде {kind, code, reason}, остальные ошибки логируются как 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if e, ok := apperr.As(err); ok {
		writeJSON(w, statusFor(e.Kind), errorResponse{Kind: e.Kind, Code: e.Code, Reason: e.Reason})
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// decodeBody читает JSON-тело. Пустое тело допустимо, если optional.
func decodeBody(r *http.Request, v any, optional bool) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return apperr.Newf(apperr.KindValidation, "invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

// CreateOrder оформляет заказ текущего покупателя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var in service.CreateOrderInput
	if err := decodeBody(r, &in, false); err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

// GetOrders возвращает заказы текущего покупателя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByCustomer(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, "get orders", err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ целиком.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, "cancel order", err)
		return
	}

	o, err := h.service.CancelOrder(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, "cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type cancelItemsRequest struct {
	Lines  []model.ProductQty `json:"lines"`
	Reason string             `json:"reason"`
}

// CancelItems отменяет часть строк заказа.
func (h *Handler) CancelItems(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req cancelItemsRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "cancel items", err)
		return
	}

	o, err := h.service.CancelItems(r.Context(), actor, chi.URLParam(r, "id"), req.Lines, req.Reason)
	if err != nil {
		h.writeError(w, r, "cancel items", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// RequestReturn открывает заявку на возврат или замену.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var in service.ReturnRequestInput
	if err := decodeBody(r, &in, false); err != nil {
		h.writeError(w, r, "request return", err)
		return
	}

	o, err := h.service.RequestReturnOrReplacement(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, "request return", err)
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

// WithdrawReturn отзывает заявку, по которой ещё нет решения.
func (h *Handler) WithdrawReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	o, err := h.service.CancelReturnRequest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "withdraw return", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
	Note   string            `json:"note"`
}

// SetStatus меняет статус заказа (оператор).
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "set status", err)
		return
	}

	o, err := h.service.SetOrderStatus(r.Context(), actor, chi.URLParam(r, "id"), req.Status, req.Note)
	if err != nil {
		h.writeError(w, r, "set status", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type decisionRequest struct {
	Decision service.Decision `json:"decision"`
	Note     string           `json:"note"`
}

// DecideReturn фиксирует решение по заявке (оператор).
func (h *Handler) DecideReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, "decide return", err)
		return
	}

	o, err := h.service.DecideReturnOrReplacement(r.Context(), actor, chi.URLParam(r, "id"), req.Decision, req.Note)
	if err != nil {
		h.writeError(w, r, "decide return", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

type noteRequest struct {
	Note string `json:"note"`
}

// CompleteReturn исполняет одобренную заявку (оператор).
func (h *Handler) CompleteReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req noteRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, "complete return", err)
		return
	}

	o, err := h.service.CompleteReturnOrReplacement(r.Context(), actor, chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.writeError(w, r, "complete return", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// PaymentCallback принимает подписанное уведомление платёжного провайдера.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb service.PaymentCallback
	if err := decodeBody(r, &cb, false); err != nil {
		h.writeError(w, r, "payment callback", err)
		return
	}

	if _, err := h.service.HandlePaymentCallback(r.Context(), cb); err != nil {
		h.writeError(w, r, "payment callback", err)
		return
	}

	// маршрут публичный, документ заказа наружу не отдаётся
	w.WriteHeader(http.StatusNoContent)
}

// GetAvailability возвращает доступный остаток товара.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	av, err := h.service.GetProductAvailability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get availability", err)
		return
	}

	writeJSON(w, http.StatusOK, av)
}
