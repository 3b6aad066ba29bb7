package service

import (
	"math"
	"strings"

	"order-tracking-service/internal/model"
)

const DefaultDeliveryFee int64 = 150

type Coupon struct {
	Percent float64 // 0.20 = 20%
	Flat    int64
	Expired bool
}

// DefaultCoupons es el catálogo vigente de códigos promocionales.
var DefaultCoupons = map[string]Coupon{
	"FIRST20":   {Percent: 0.20},
	"FOURSMASH": {Flat: 300},
	"LAHORE50":  {Percent: 0.50},
	"RAMADAN":   {Expired: true},
	"EID2024":   {Expired: true},
}

type Pricing struct {
	DeliveryFee int64
	Coupons     map[string]Coupon
}

type Quote struct {
	Subtotal    int64  `json:"subtotal"`
	DeliveryFee int64  `json:"deliveryFee"`
	Discount    int64  `json:"discount"`
	CouponCode  string `json:"couponCode,omitempty"`
	Total       int64  `json:"total"`
}

func NormalizeCoupon(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Quote calcula el total: max(0, subtotal + envío - descuento).
// Los items deben traer UnitPrice ya capturado.
func (p Pricing) Quote(items []model.LineItem, couponCode string) (Quote, error) {
	q := Quote{DeliveryFee: p.DeliveryFee}
	for _, it := range items {
		q.Subtotal += it.LineTotal()
	}

	if code := NormalizeCoupon(couponCode); code != "" {
		c, ok := p.Coupons[code]
		if !ok {
			return Quote{}, ErrCouponInvalid
		}
		if c.Expired {
			return Quote{}, ErrCouponExpired
		}
		q.CouponCode = code
		if c.Percent > 0 {
			q.Discount = int64(math.Round(float64(q.Subtotal) * c.Percent))
		} else {
			q.Discount = c.Flat
		}
	}

	q.Total = q.Subtotal + q.DeliveryFee - q.Discount
	if q.Total < 0 {
		q.Total = 0
	}
	return q, nil
}
