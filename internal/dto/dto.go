// dto.go
package dto

import (
	"time"

	"order-tracking-service/internal/model"
)

type OptionDTO struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// CartItemDTO es una línea del carrito: price es el precio base del producto.
type CartItemDTO struct {
	ProductID    string      `json:"productId" binding:"required"`
	Name         string      `json:"name" binding:"required"`
	Quantity     int         `json:"quantity" binding:"required"`
	Price        int64       `json:"price"`
	Size         *OptionDTO  `json:"size,omitempty"`
	Addons       []OptionDTO `json:"addons,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
}

// AddressDTO para la dirección de entrega
type AddressDTO struct {
	ID                   string   `json:"id"`
	Label                string   `json:"label"`
	LabelName            string   `json:"labelName"`
	Details              string   `json:"details"`
	Area                 string   `json:"area"`
	City                 string   `json:"city"`
	Landmark             string   `json:"landmark"`
	ContactName          string   `json:"contactName"`
	ContactNumber        string   `json:"contactNumber"`
	DeliveryInstructions string   `json:"deliveryInstructions"`
	Lat                  *float64 `json:"lat"`
	Lng                  *float64 `json:"lng"`
}

func (a AddressDTO) ToModel() *model.Address {
	label := model.AddressLabel(a.Label)
	if label == "" {
		label = model.LabelHome
	}
	return &model.Address{
		ID:                   a.ID,
		Label:                label,
		LabelName:            a.LabelName,
		Details:              a.Details,
		Area:                 a.Area,
		City:                 a.City,
		Landmark:             a.Landmark,
		ContactName:          a.ContactName,
		ContactNumber:        a.ContactNumber,
		DeliveryInstructions: a.DeliveryInstructions,
		Lat:                  a.Lat,
		Lng:                  a.Lng,
	}
}

// CreateOrderRequest: el cliente manda el carrito; el total es opcional y
// solo se usa para verificar lo que mostró el checkout.
type CreateOrderRequest struct {
	Items           []CartItemDTO `json:"items" binding:"required"`
	DeliveryAddress *AddressDTO   `json:"deliveryAddress" binding:"required"`
	PaymentMethod   string        `json:"paymentMethod"`
	CouponCode      string        `json:"couponCode"`
	Total           *int64        `json:"total"`
}

type QuoteRequest struct {
	Items      []CartItemDTO `json:"items" binding:"required"`
	CouponCode string        `json:"couponCode"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type LocationRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

type CompleteRequest struct {
	OTP string `json:"otp" binding:"required"`
}

type StatusResponse struct {
	OrderID string       `json:"orderId"`
	Status  model.Status `json:"status"`
}

// RiderOrder es la orden en la lista del rider, con los estados a los que
// puede moverla.
type RiderOrder struct {
	*model.Order
	NextStatuses []model.Status `json:"nextStatuses"`
}

// LocationResponse: Location es null si el rider todavía no reportó.
type LocationResponse struct {
	OrderID  string               `json:"orderId"`
	Location *model.RiderLocation `json:"location"`
}

// StreamMessage es lo que viaja por los websockets.
type StreamMessage struct {
	Type    string    `json:"type"`
	SentAt  time.Time `json:"sentAt"`
	Payload any       `json:"payload"`
}
