package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"depotbill/backend/internal/store"
)

var linePattern = regexp.MustCompile(`\.lines\[(\d+)\]`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("cents", validCents)
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validCents accepts amounts with at most two decimal places. The custom type
// func hands validators a float, so the decimal is read from the parent.
func validCents(fl validator.FieldLevel) bool {
	parent := fl.Parent()
	for parent.Kind() == reflect.Pointer {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return false
	}
	raw := parent.FieldByName(fl.StructFieldName())
	if !raw.IsValid() || !raw.CanInterface() {
		return false
	}
	d, ok := raw.Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return d.Equal(d.Round(2))
}

// check runs the struct tags on a request and reports the first failure as a
// FieldError, with the line index filled in for sale line fields.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	fe := verrs[0]
	line := -1
	if m := linePattern.FindStringSubmatch(fe.Namespace()); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return &store.FieldError{Line: line, Field: fe.Field(), Reason: describe(fe), Kind: store.ErrValidation}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return "is required"
	case "excluded_with":
		return "set only one of product_id or variant_id"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "needs at least " + fe.Param() + " item(s)"
	case "cents":
		return "must have at most 2 decimal places"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "failed " + fe.Tag()
}
