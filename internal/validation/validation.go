// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/bundlemart/internal/apperr"
	"github.com/mmeshcher/bundlemart/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках используются имена полей из json-тегов.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct проверяет структуру по тегам validate и возвращает ошибку класса VALIDATION_ERROR.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Newf(apperr.KindValidation, "invalid input: %v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Namespace()+": "+message(e))
	}
	return apperr.New(apperr.KindValidation, strings.Join(msgs, "; "))
}

// Lines проверяет список позиций: непустой, положительные количества, без повторов товара.
func Lines(lines []model.ProductQty) error {
	if len(lines) == 0 {
		return apperr.New(apperr.KindValidation, "at least one line is required")
	}

	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return apperr.New(apperr.KindValidation, "product_id is required")
		}
		if l.Qty <= 0 {
			return apperr.Wrap(apperr.ErrInvalidQuantity, "quantity for %s must be positive, got %d", l.ProductID, l.Qty)
		}
		if _, ok := seen[l.ProductID]; ok {
			return apperr.Newf(apperr.KindValidation, "product %s is listed more than once", l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "dive":
		return "invalid element"
	default:
		return "invalid value"
	}
}
