package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/inventory"
	"github.com/mmeshcher/bundlemart/internal/model"
	"github.com/mmeshcher/bundlemart/internal/repository"
	"github.com/mmeshcher/bundlemart/internal/validation"
)

// ReturnRequestInput описывает заявку покупателя на возврат или замену.
type ReturnRequestInput struct {
	Type   model.RequestType  `json:"type" validate:"required,oneof=RETURN REPLACEMENT"`
	Reason string             `json:"reason" validate:"max=1000"`
	Lines  []model.ProductQty `json:"lines" validate:"required,min=1,dive"`
}

// Decision задаёт решение оператора по заявке.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// checkEligible проверяет, что по каждой строке запрошено не больше допустимого количества.
func checkEligible(o *model.Order, lines []model.ProductQty, kind apperr.Kind) error {
	for _, req := range lines {
		l := o.Line(req.ProductID)
		if l == nil {
			return apperr.Newf(apperr.KindValidation, "product %s is not in order %s", req.ProductID, o.ID)
		}
		if req.Qty > l.Eligible() {
			return apperr.Newf(kind, "requested %d of %s, only %d eligible", req.Qty, req.ProductID, l.Eligible())
		}
	}
	return nil
}

// RequestReturnOrReplacement открывает заявку на возврат или замену доставленного заказа.
func (s *Service) RequestReturnOrReplacement(ctx context.Context, actor model.Actor, orderID string, in ReturnRequestInput) (*model.Order, error) {
	if err := validation.Lines(in.Lines); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	return s.mutateOrder(ctx, actor, orderID, accessOwner, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.ReturnRequest.Status.IsOpen() {
			return apperr.Newf(apperr.KindDuplicateAction, "order already has a %s request", o.ReturnRequest.Status)
		}
		if in.Type == model.RequestTypeReplacement {
			if o.IsReplacement {
				return apperr.New(apperr.KindStateConflict, "a replacement order cannot be replaced again")
			}
			if o.ReplacementOrderID != "" {
				return apperr.Newf(apperr.KindDuplicateAction, "order already has replacement order %s", o.ReplacementOrderID)
			}
		}
		if o.Status != model.OrderStatusDelivered {
			return apperr.Newf(apperr.KindStateConflict, "only delivered orders accept return requests, order is %s", o.Status)
		}
		if err := checkEligible(o, in.Lines, apperr.KindValidation); err != nil {
			return err
		}

		at := u.now
		o.ReturnRequest = model.ReturnRequest{
			Status:      model.ReturnStatusRequested,
			Type:        in.Type,
			Reason:      in.Reason,
			Lines:       append([]model.ProductQty(nil), in.Lines...),
			RequestedAt: &at,
		}
		o.Note(string(in.Type)+" requested: "+describeLines(in.Lines), u.now)
		u.emit(events.EventReturnRequested, o, in.Reason, in.Lines)
		return nil
	})
}

// CancelReturnRequest отзывает заявку, по которой ещё не принято решение.
func (s *Service) CancelReturnRequest(ctx context.Context, actor model.Actor, orderID string) (*model.Order, error) {
	return s.mutateOrder(ctx, actor, orderID, accessOwner, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.ReturnRequest.Status != model.ReturnStatusRequested {
			return apperr.Newf(apperr.KindStateConflict, "request in status %s cannot be withdrawn", o.ReturnRequest.Status)
		}

		reqType := o.ReturnRequest.Type
		o.ReturnRequest = model.ReturnRequest{Status: model.ReturnStatusNone}
		o.Note(string(reqType)+" request withdrawn", u.now)
		u.emit(events.EventReturnWithdrawn, o, "", nil)
		return nil
	})
}

// DecideReturnOrReplacement фиксирует решение оператора по заявке в статусе REQUESTED.
func (s *Service) DecideReturnOrReplacement(ctx context.Context, actor model.Actor, orderID string, decision Decision, note string) (*model.Order, error) {
	var next model.ReturnStatus
	switch decision {
	case DecisionApprove:
		next = model.ReturnStatusApproved
	case DecisionReject:
		next = model.ReturnStatusRejected
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown decision %q", decision)
	}

	return s.mutateOrder(ctx, actor, orderID, accessOperator, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.ReturnRequest.Status != model.ReturnStatusRequested {
			return apperr.Newf(apperr.KindStateConflict, "request in status %s cannot be decided", o.ReturnRequest.Status)
		}

		at := u.now
		o.ReturnRequest.Status = next
		o.ReturnRequest.DecidedBy = actor.ID
		o.ReturnRequest.DecidedAt = &at
		o.ReturnRequest.DecisionNote = note
		o.Note(string(o.ReturnRequest.Type)+" request "+string(next), u.now)
		u.emit(events.EventReturnDecided, o, note, nil)
		return nil
	})
}

// CompleteReturnOrReplacement исполняет одобренную заявку.
func (s *Service) CompleteReturnOrReplacement(ctx context.Context, actor model.Actor, orderID, note string) (*model.Order, error) {
	return s.mutateOrder(ctx, actor, orderID, accessOperator, func(ctx context.Context, tx repository.Tx, o *model.Order, u *unit) error {
		if o.ReturnRequest.Status != model.ReturnStatusApproved {
			return apperr.Newf(apperr.KindStateConflict, "only approved requests can be completed, request is %s", o.ReturnRequest.Status)
		}
		if o.Status != model.OrderStatusDelivered {
			return apperr.Newf(apperr.KindStateConflict, "order is %s, expected %s", o.Status, model.OrderStatusDelivered)
		}

		var err error
		switch o.ReturnRequest.Type {
		case model.RequestTypeReturn:
			err = s.completeReturn(ctx, tx, o, note, u)
		case model.RequestTypeReplacement:
			err = s.completeReplacement(ctx, tx, o, note, u)
		default:
			err = apperr.Newf(apperr.KindStateConflict, "unknown request type %q", o.ReturnRequest.Type)
		}
		if err != nil {
			return err
		}

		at := u.now
		o.ReturnRequest.Status = model.ReturnStatusCompleted
		o.ReturnRequest.CompletedAt = &at
		return nil
	})
}

func (s *Service) completeReturn(ctx context.Context, tx repository.Tx, o *model.Order, note string, u *unit) error {
	lines := o.ReturnRequest.Lines
	// Допустимое количество могло уменьшиться с момента заявки.
	if err := checkEligible(o, lines, apperr.KindStateConflict); err != nil {
		return err
	}

	catalog, err := tx.GetProducts(ctx, lineIDs(lines))
	if err != nil {
		return err
	}

	var purge []string
	for _, req := range lines {
		p, ok := catalog[req.ProductID]
		if !ok {
			return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", req.ProductID)
		}
		if err := inventory.Release(ctx, tx, p, req.Qty); err != nil {
			return err
		}
		o.Line(req.ProductID).ReturnedQty += req.Qty
		purge = append(purge, inventory.ReviewTargets(p)...)
	}

	if err := rollbackSales(ctx, tx, o); err != nil {
		return err
	}

	if o.FullyReturned() {
		o.AppendHistory(model.OrderStatusReturned, note, u.now)
		if !o.IsReplacement && o.Payment.Status == model.PaymentStatusPaid {
			o.Payment.Status = model.PaymentStatusRefunded
		}
		if err := refundParent(ctx, tx, o, u); err != nil {
			return err
		}
	} else {
		o.Note(joinNote("partial return: "+describeLines(lines), note), u.now)
	}

	u.emit(events.EventReturnCompleted, o, note, lines)
	u.purges = append(u.purges, purgeJob{customerID: o.CustomerID, productIDs: purge})
	return nil
}

func (s *Service) completeReplacement(ctx context.Context, tx repository.Tx, o *model.Order, note string, u *unit) error {
	if o.IsReplacement {
		return apperr.New(apperr.KindStateConflict, "a replacement order cannot be replaced again")
	}
	existing, err := tx.FindReplacementOrderID(ctx, o.ID)
	if err != nil {
		return err
	}
	if existing != "" || o.ReplacementOrderID != "" {
		return apperr.Wrap(apperr.ErrDuplicateAction, "order %s already has a replacement order", o.ID)
	}

	lines := o.ReturnRequest.Lines
	if err := checkEligible(o, lines, apperr.KindStateConflict); err != nil {
		return err
	}

	catalog, err := loadCatalog(ctx, tx, lineIDs(lines))
	if err != nil {
		return err
	}

	replacement := &model.Order{
		ID:            uuid.NewString(),
		CustomerID:    o.CustomerID,
		Shipping:      o.Shipping,
		Payment:       model.Payment{Method: model.PaymentMethodReplacement, Status: model.PaymentStatusPaid, Reference: o.ID},
		ParentOrderID: o.ID,
		IsReplacement: true,
		ReturnRequest: model.ReturnRequest{Status: model.ReturnStatusNone},
		CreatedAt:     u.now,
	}

	for _, req := range lines {
		p, ok := catalog[req.ProductID]
		if !ok {
			return apperr.Wrap(apperr.ErrProductNotFound, "product %s not found", req.ProductID)
		}
		if !p.Active {
			return apperr.Wrap(apperr.ErrProductInactive, "product %s is inactive", req.ProductID)
		}
		if available := inventory.Available(p, catalog); available < req.Qty {
			return apperr.Wrap(apperr.ErrInsufficientStock,
				"insufficient stock for replacement of %s: requested %d, available %d", req.ProductID, req.Qty, available)
		}
		if err := inventory.Reserve(ctx, tx, p, req.Qty); err != nil {
			return err
		}

		src := o.Line(req.ProductID)
		replacement.Lines = append(replacement.Lines, model.OrderLine{
			ProductID:   src.ProductID,
			Kind:        src.Kind,
			Title:       src.Title,
			Slug:        src.Slug,
			Image:       src.Image,
			UnitPrice:   decimal.Zero,
			StrikePrice: src.UnitPrice,
			OfferKind:   model.OfferKindNone,
			Qty:         req.Qty,
		})
		src.ReplacedQty += req.Qty
	}

	replacement.RecomputeTotal()
	replacement.AppendHistory(model.OrderStatusConfirmed, "replacement for order "+o.ID, u.now)
	if err := tx.InsertOrder(ctx, replacement); err != nil {
		return err
	}
	o.ReplacementOrderID = replacement.ID

	if o.FullyReplaced() {
		o.AppendHistory(model.OrderStatusReplaced, note, u.now)
	} else {
		o.Note(joinNote("partial replacement: "+describeLines(lines), note), u.now)
	}

	u.touch(replacement.ID)
	u.emit(events.EventReplacementCreated, replacement, note, lines)
	u.emit(events.EventReturnCompleted, o, note, lines)
	return nil
}

func joinNote(base, note string) string {
	if note == "" {
		return base
	}
	return base + " (" + note + ")"
}
