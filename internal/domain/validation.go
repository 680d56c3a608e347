package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// LineItem is one requested product line.
type LineItem struct {
	ProductName string          `json:"product_name" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
}

// PlaceOrder is the customer-supplied part of a new order.
type PlaceOrder struct {
	CustomerName    string     `json:"customer_name" validate:"required"`
	CustomerEmail   string     `json:"customer_email" validate:"required"`
	CustomerPhone   string     `json:"customer_phone,omitempty"`
	ShippingAddress string     `json:"shipping_address" validate:"required"`
	Items           []LineItem `json:"items" validate:"required,min=1,dive"`

	// TotalAmount is what the client believes the total is. It is never stored.
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty" validate:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Compare decimals numerically; the sign is all the rules look at.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return v
}

func (p PlaceOrder) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fieldPath(fe.Namespace())
		fields[path] = describe(path, fe)
	}
	return &ValidationError{Fields: fields}
}

// fieldPath drops the leading struct name: "PlaceOrder.items[0].price" -> "items[0].price".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(path string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", path)
	}
}
