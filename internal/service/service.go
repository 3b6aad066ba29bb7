package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"order-tracking-service/internal/events"
	"order-tracking-service/internal/model"
	"order-tracking-service/internal/repository"
	"order-tracking-service/internal/tracking"
)

// Interfaz que debe implementar repository
type OrderRepository interface {
	Insert(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindAll(ctx context.Context) ([]*model.Order, error)
	FindByStatus(ctx context.Context, status model.Status) ([]*model.Order, error)
	FindByCustomerPhone(ctx context.Context, phone string) ([]*model.Order, error)
	// UpdateStatus escribe solo si la orden sigue en expectedSeq; si no,
	// devuelve repository.ErrStatusMismatch.
	UpdateStatus(ctx context.Context, id string, expectedSeq int64, status model.Status, record model.StatusRecord) error
	RecordLocation(ctx context.Context, loc model.RiderLocation) error
	LatestLocation(ctx context.Context, orderID string) (*model.RiderLocation, error)
}

type Options struct {
	DeliveryFee int64
	Coupons     map[string]Coupon
	// OTPMaxAttempts == 0 permite intentos ilimitados.
	OTPMaxAttempts int
	// LocationMinInterval descarta muestras GPS que llegan antes de tiempo.
	LocationMinInterval time.Duration
	Route               tracking.Route
	Now                 func() time.Time
	NewOTP              func() (string, error)
}

// OrderService es el único punto que modifica órdenes. Cada cambio se
// persiste y después se publica en el bus.
type OrderService struct {
	repo      OrderRepository
	bus       events.Publisher
	pricing   Pricing
	validate  *validator.Validate
	locks     *orderLocks
	otp       *otpAttempts
	route     tracking.Route
	now       func() time.Time
	newOTP    func() (string, error)
	newID     func() (string, error)
	locEvery  time.Duration
	locMu     sync.Mutex
	lastLocAt map[string]time.Time
}

func NewOrderService(r OrderRepository, bus events.Publisher, opts Options) *OrderService {
	coupons := opts.Coupons
	if coupons == nil {
		coupons = DefaultCoupons
	}
	pricing := Pricing{DeliveryFee: opts.DeliveryFee, Coupons: coupons}

	s := &OrderService{
		repo:      r,
		bus:       bus,
		pricing:   pricing,
		validate:  newValidator(pricing),
		locks:     newOrderLocks(),
		otp:       newOTPAttempts(opts.OTPMaxAttempts),
		route:     opts.Route,
		now:       opts.Now,
		newOTP:    opts.NewOTP,
		newID:     newOrderID,
		locEvery:  opts.LocationMinInterval,
		lastLocAt: make(map[string]time.Time),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newOTP == nil {
		s.newOTP = newOTP
	}
	return s
}

// CreateOrder valida el carrito, calcula el total y deja la orden en placed.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.PaymentMethod == "" {
		in.PaymentMethod = model.PaymentCashOnDelivery
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	items := in.lineItems()
	quote, err := s.pricing.Quote(items, in.CouponCode)
	if err != nil {
		return nil, err
	}

	otp, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &model.Order{
		Items:           items,
		Subtotal:        quote.Subtotal,
		DeliveryFee:     quote.DeliveryFee,
		Discount:        quote.Discount,
		CouponCode:      quote.CouponCode,
		Total:           quote.Total,
		Status:          model.StatusPlaced,
		Seq:             1,
		PaymentMethod:   in.PaymentMethod,
		DeliveryAddress: *in.Address,
		CustomerName:    in.Customer.Name,
		CustomerPhone:   in.Customer.Phone,
		OTP:             otp,
		History: []model.StatusRecord{
			{
				Status:    model.StatusPlaced,
				Reason:    "Orden creada",
				ActorRole: model.RoleCustomer,
				ActorID:   in.Customer.Phone,
				Seq:       1,
				Timestamp: now,
				Current:   true,
			},
		},
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: model.SchemaVersion,
	}
	order = order.Clone()

	// reintenta si el id ya existe
	for attempt := 1; ; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}
		order.ID = id

		err = s.repo.Insert(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateID) || attempt >= maxIDRetries {
			return nil, fmt.Errorf("crear orden: %w", err)
		}
	}

	// los riders no deben ver el código de entrega
	s.publish(ctx, events.NewOrder, order.WithoutOTP())
	return order, nil
}

// QuoteCart calcula el total del checkout sin crear la orden.
func (s *OrderService) QuoteCart(items []ItemInput, couponCode string) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, &ValidationError{Fields: map[string]string{"Items": "min=1"}}
	}
	lines := make([]model.LineItem, len(items))
	for i, it := range items {
		if err := s.validate.Struct(it); err != nil {
			return Quote{}, toValidationError(err)
		}
		lines[i] = it.lineItem()
	}
	return s.pricing.Quote(lines, couponCode)
}

// UpdateStatus aplica un cambio de estado validado por la máquina de estados.
// La entrega no pasa por acá: requiere VerifyAndComplete.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status model.Status, actor model.Actor, reason string) error {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := checkTransition(o, status, actor, false); err != nil {
		return err
	}
	return s.apply(ctx, o, status, actor, reason)
}

// CancelOrder: el cliente dueño (o el sistema) cancela antes del despacho.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, actor model.Actor, reason string) error {
	if reason == "" {
		reason = "Cancelada"
	}
	return s.UpdateStatus(ctx, orderID, model.StatusCancelled, actor, reason)
}

// VerifyAndComplete compara el código con el de la orden y, si coincide,
// la pasa a delivered. Un código incorrecto no cambia nada ni publica.
func (s *OrderService) VerifyAndComplete(ctx context.Context, orderID, code string, actor model.Actor) error {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := checkTransition(o, model.StatusDelivered, actor, true); err != nil {
		return err
	}
	if s.otp.locked(orderID) {
		return ErrOTPLocked
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(o.OTP)) != 1 {
		s.otp.fail(orderID)
		return ErrOTPMismatch
	}
	s.otp.reset(orderID)
	return s.apply(ctx, o, model.StatusDelivered, actor, "Entrega verificada con OTP")
}

// apply se llama con el lock de la orden tomado.
func (s *OrderService) apply(ctx context.Context, o *model.Order, status model.Status, actor model.Actor, reason string) error {
	now := s.now().UTC()
	record := model.StatusRecord{
		Status:    status,
		Reason:    reason,
		ActorRole: actor.ActorRole(),
		ActorID:   actor.ActorID(),
		Seq:       o.Seq + 1,
		Timestamp: now,
		Current:   true,
	}
	err := s.repo.UpdateStatus(ctx, o.ID, o.Seq, status, record)
	if errors.Is(err, repository.ErrStatusMismatch) {
		// otra réplica cambió la orden entre la lectura y la escritura
		return fmt.Errorf("%w: %s cambió durante %s -> %s", ErrInvalidTransition, o.ID, o.Status, status)
	}
	if err != nil {
		return err
	}
	if status.Final() {
		s.forgetLocation(o.ID)
	}

	s.publish(ctx, events.OrderStatusUpdate, events.StatusUpdate{
		OrderID:   o.ID,
		Status:    status,
		Seq:       record.Seq,
		UpdatedAt: now,
	})
	return nil
}

// UpdateRiderLocation guarda la última muestra GPS (gana la última escritura).
func (s *OrderService) UpdateRiderLocation(ctx context.Context, orderID string, lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return &ValidationError{Fields: map[string]string{"lat/lng": "fuera de rango"}}
	}
	o, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	// una orden entregada o cancelada ya no tiene rider en camino
	if o.Status.Final() {
		return ErrFinalState
	}

	now := s.now().UTC()
	if !s.acceptLocation(orderID, now) {
		return nil
	}

	loc := model.RiderLocation{OrderID: orderID, Lat: lat, Lng: lng, Timestamp: now}
	if err := s.repo.RecordLocation(ctx, loc); err != nil {
		return err
	}
	s.publish(ctx, events.RiderLocationUpdate, events.LocationUpdate{
		OrderID:   orderID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: now,
	})
	return nil
}

func (s *OrderService) acceptLocation(orderID string, now time.Time) bool {
	if s.locEvery <= 0 {
		return true
	}
	s.locMu.Lock()
	defer s.locMu.Unlock()
	if last, ok := s.lastLocAt[orderID]; ok && now.Sub(last) < s.locEvery {
		return false
	}
	s.lastLocAt[orderID] = now
	return true
}

func (s *OrderService) forgetLocation(orderID string) {
	s.locMu.Lock()
	delete(s.lastLocAt, orderID)
	s.locMu.Unlock()
}

// GetStatus nunca falla por una orden inexistente: devuelve placed.
func (s *OrderService) GetStatus(ctx context.Context, orderID string) (model.Status, error) {
	o, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.StatusPlaced, nil
	}
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

// GetRiderLocation devuelve nil si todavía no hay muestra.
func (s *OrderService) GetRiderLocation(ctx context.Context, orderID string) (*model.RiderLocation, error) {
	loc, err := s.repo.LatestLocation(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return loc, err
}

// Getters
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.FindByID(ctx, orderID)
}

func (s *OrderService) GetAll(ctx context.Context) ([]*model.Order, error) {
	return s.repo.FindAll(ctx)
}

func (s *OrderService) GetByStatus(ctx context.Context, status model.Status) ([]*model.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "oneof"}}
	}
	return s.repo.FindByStatus(ctx, status)
}

func (s *OrderService) GetByCustomer(ctx context.Context, phone string) ([]*model.Order, error) {
	return s.repo.FindByCustomerPhone(ctx, phone)
}

// Track arma la vista de seguimiento con el estado actual.
func (s *OrderService) Track(ctx context.Context, orderID string) (tracking.View, error) {
	o, loc, err := s.snapshot(ctx, orderID)
	if err != nil {
		return tracking.View{}, err
	}
	return tracking.Project(o, loc, s.now().UTC(), s.route), nil
}

// NewTracker inicializa un Tracker para una vista que luego aplica eventos.
func (s *OrderService) NewTracker(ctx context.Context, orderID string) (*tracking.Tracker, error) {
	o, loc, err := s.snapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return tracking.NewTracker(o, loc, s.route), nil
}

func (s *OrderService) Now() time.Time { return s.now().UTC() }

func (s *OrderService) snapshot(ctx context.Context, orderID string) (*model.Order, *model.RiderLocation, error) {
	o, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := s.GetRiderLocation(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, loc, nil
}

// publish nunca hace fallar la operación: el estado ya quedó persistido.
func (s *OrderService) publish(ctx context.Context, name string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, name, payload); err != nil {
		log.Printf("[Orders] no se pudo publicar %s: %v", name, err)
	}
}
