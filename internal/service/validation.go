package service

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"order-tracking-service/internal/model"
)

// ItemInput es una línea del carrito tal como la manda el cliente.
type ItemInput struct {
	ProductID    string         `validate:"required"`
	Name         string         `validate:"required"`
	Quantity     int            `validate:"min=1,max=99"`
	BasePrice    int64          `validate:"gte=0"`
	Size         *model.Option  `validate:"omitempty"`
	Addons       []model.Option `validate:"dive"`
	Instructions string         `validate:"max=500"`
}

func (in ItemInput) lineItem() model.LineItem {
	li := model.LineItem{
		ProductID:    in.ProductID,
		Name:         in.Name,
		Quantity:     in.Quantity,
		BasePrice:    in.BasePrice,
		Addons:       append([]model.Option(nil), in.Addons...),
		Instructions: strings.TrimSpace(in.Instructions),
	}
	if in.Size != nil {
		s := *in.Size
		li.Size = &s
	}
	// el precio se captura acá y no se recalcula después
	li.UnitPrice = li.ComputeUnitPrice()
	return li
}

type CreateOrderInput struct {
	Items         []ItemInput         `validate:"required,min=1,dive"`
	Address       *model.Address      `validate:"required"`
	PaymentMethod model.PaymentMethod `validate:"omitempty,oneof=cash_on_delivery"`
	CouponCode    string              `validate:"max=32"`
	// DeclaredTotal es el total que mostró el checkout; si viene, debe coincidir.
	DeclaredTotal *int64 `validate:"omitempty,gte=0"`
	Customer      model.Customer
}

func (in CreateOrderInput) lineItems() []model.LineItem {
	out := make([]model.LineItem, len(in.Items))
	for i, it := range in.Items {
		out[i] = it.lineItem()
	}
	return out
}

// newValidator registra las reglas que no se pueden expresar con tags.
func newValidator(p Pricing) *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(addressValidation, model.Address{})
	v.RegisterStructValidation(optionValidation, model.Option{})
	v.RegisterStructValidation(customerValidation, model.Customer{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		createOrderValidation(sl, p)
	}, CreateOrderInput{})
	return v
}

func addressValidation(sl validator.StructLevel) {
	a := sl.Current().Interface().(model.Address)
	if strings.TrimSpace(a.Details) == "" {
		sl.ReportError(a.Details, "details", "Details", "required", "")
	}
	if strings.TrimSpace(a.City) == "" {
		sl.ReportError(a.City, "city", "City", "required", "")
	}
	if (a.Lat == nil) != (a.Lng == nil) {
		sl.ReportError(a.Lat, "lat", "Lat", "latlng_pair", "")
	}
	if a.Lat != nil && math.Abs(*a.Lat) > 90 {
		sl.ReportError(*a.Lat, "lat", "Lat", "latitude", "")
	}
	if a.Lng != nil && math.Abs(*a.Lng) > 180 {
		sl.ReportError(*a.Lng, "lng", "Lng", "longitude", "")
	}
}

func optionValidation(sl validator.StructLevel) {
	o := sl.Current().Interface().(model.Option)
	if strings.TrimSpace(o.Name) == "" {
		sl.ReportError(o.Name, "name", "Name", "required", "")
	}
	if o.Price < 0 {
		sl.ReportError(o.Price, "price", "Price", "gte", "0")
	}
}

func customerValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(model.Customer)
	if strings.TrimSpace(c.Phone) == "" {
		sl.ReportError(c.Phone, "phone", "Phone", "required", "")
	}
}

// createOrderValidation verifica que el total declarado coincida con el calculado.
// Los errores de cupón los reporta CreateOrder.
func createOrderValidation(sl validator.StructLevel, p Pricing) {
	in := sl.Current().Interface().(CreateOrderInput)
	if in.DeclaredTotal == nil || len(in.Items) == 0 {
		return
	}
	q, err := p.Quote(in.lineItems(), in.CouponCode)
	if err != nil {
		return
	}
	if q.Total != *in.DeclaredTotal {
		sl.ReportError(*in.DeclaredTotal, "total", "DeclaredTotal", "total_matches", fmt.Sprintf("%d", q.Total))
	}
}

// toValidationError convierte los errores del validator en campo -> regla.
func toValidationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		key := strings.TrimPrefix(fe.StructNamespace(), "CreateOrderInput.")
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[key] = msg
	}
	return &ValidationError{Fields: fields}
}
