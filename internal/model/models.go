// models.go
package model

import "time"

// SchemaVersion de los documentos persistidos (orders y rider_locations).
const SchemaVersion = 1

type Status string

const (
	StatusPlaced         Status = "placed"
	StatusPreparing      Status = "preparing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Statuses en orden de ciclo de vida; cancelled queda al final.
var Statuses = []Status{
	StatusPlaced,
	StatusPreparing,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Final indica que la orden ya no admite transiciones.
func (s Status) Final() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentMethod string

// Único medio de pago soportado por ahora.
const PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"

type Order struct {
	ID              string         `bson:"order_id" json:"id"`
	Items           []LineItem     `bson:"items" json:"items"`
	Subtotal        int64          `bson:"subtotal" json:"subtotal"`
	DeliveryFee     int64          `bson:"delivery_fee" json:"deliveryFee"`
	Discount        int64          `bson:"discount" json:"discount"`
	CouponCode      string         `bson:"coupon_code,omitempty" json:"couponCode,omitempty"`
	Total           int64          `bson:"total" json:"total"`
	Status          Status         `bson:"status" json:"status"` // estado actual
	Seq             int64          `bson:"seq" json:"seq"`
	PaymentMethod   PaymentMethod  `bson:"payment_method" json:"paymentMethod"`
	DeliveryAddress Address        `bson:"delivery_address" json:"deliveryAddress"`
	CustomerName    string         `bson:"customer_name" json:"customerName"`
	CustomerPhone   string         `bson:"customer_phone" json:"customerPhone"`
	OTP             string         `bson:"otp" json:"otp,omitempty"`
	History         []StatusRecord `bson:"history" json:"history"`
	CreatedAt       time.Time      `bson:"created_at" json:"date"`
	UpdatedAt       time.Time      `bson:"updated_at" json:"updatedAt"`
	SchemaVersion   int            `bson:"schema_version" json:"schemaVersion"`
}

// Clone copia la orden junto con sus slices para que el llamador no
// comparta memoria con el store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]LineItem, len(o.Items))
	for i, it := range o.Items {
		c.Items[i] = it.clone()
	}
	c.History = append([]StatusRecord(nil), o.History...)
	c.DeliveryAddress = o.DeliveryAddress.clone()
	return &c
}

// WithoutOTP devuelve una copia sin el código de entrega, para vistas del rider.
func (o *Order) WithoutOTP() *Order {
	c := o.Clone()
	c.OTP = ""
	return c
}

// CurrentRecord devuelve el registro de historial marcado como actual.
func (o *Order) CurrentRecord() *StatusRecord {
	for i := range o.History {
		if o.History[i].Current {
			return &o.History[i]
		}
	}
	return nil
}

type Option struct {
	Name  string `bson:"name" json:"name"`
	Price int64  `bson:"price" json:"price"`
}

// LineItem guarda el precio capturado al momento de la compra.
type LineItem struct {
	ProductID    string   `bson:"product_id" json:"productId"`
	Name         string   `bson:"name" json:"name"`
	Quantity     int      `bson:"quantity" json:"quantity"`
	BasePrice    int64    `bson:"base_price" json:"basePrice"`
	Size         *Option  `bson:"size,omitempty" json:"size,omitempty"`
	Addons       []Option `bson:"addons,omitempty" json:"addons,omitempty"`
	Instructions string   `bson:"instructions,omitempty" json:"instructions,omitempty"`
	UnitPrice    int64    `bson:"unit_price" json:"unitPrice"`
}

// ComputeUnitPrice: el precio del tamaño reemplaza al base, los addons se suman.
func (li LineItem) ComputeUnitPrice() int64 {
	price := li.BasePrice
	if li.Size != nil {
		price = li.Size.Price
	}
	for _, a := range li.Addons {
		price += a.Price
	}
	return price
}

func (li LineItem) LineTotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

func (li LineItem) clone() LineItem {
	c := li
	if li.Size != nil {
		s := *li.Size
		c.Size = &s
	}
	c.Addons = append([]Option(nil), li.Addons...)
	return c
}

type AddressLabel string

const (
	LabelHome   AddressLabel = "home"
	LabelOffice AddressLabel = "office"
	LabelOther  AddressLabel = "other"
)

// Address es una copia de la dirección al momento de la orden, no una referencia.
type Address struct {
	ID                   string       `bson:"id,omitempty" json:"id,omitempty"`
	Label                AddressLabel `bson:"label" json:"label"`
	LabelName            string       `bson:"label_name,omitempty" json:"labelName,omitempty"`
	Details              string       `bson:"details" json:"details"`
	Area                 string       `bson:"area" json:"area"`
	City                 string       `bson:"city" json:"city"`
	Landmark             string       `bson:"landmark,omitempty" json:"landmark,omitempty"`
	ContactName          string       `bson:"contact_name,omitempty" json:"contactName,omitempty"`
	ContactNumber        string       `bson:"contact_number,omitempty" json:"contactNumber,omitempty"`
	DeliveryInstructions string       `bson:"delivery_instructions,omitempty" json:"deliveryInstructions,omitempty"`
	Lat                  *float64     `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng                  *float64     `bson:"lng,omitempty" json:"lng,omitempty"`
}

func (a Address) clone() Address {
	c := a
	if a.Lat != nil {
		v := *a.Lat
		c.Lat = &v
	}
	if a.Lng != nil {
		v := *a.Lng
		c.Lng = &v
	}
	return c
}

type StatusRecord struct {
	Status    Status    `bson:"status" json:"status"`
	Reason    string    `bson:"reason" json:"reason"`
	ActorRole Role      `bson:"actor_role" json:"actorRole"`
	ActorID   string    `bson:"user" json:"actorId"`
	Seq       int64     `bson:"seq" json:"seq"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`

	// Para marcar cuál es el último
	Current bool `bson:"current" json:"current"`
}

// RiderLocation es la última muestra GPS de una orden; se sobrescribe.
type RiderLocation struct {
	OrderID   string    `bson:"order_id" json:"orderId"`
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
