package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-tracking-service/internal/events"
	"order-tracking-service/internal/model"
	"order-tracking-service/internal/repository"
	"order-tracking-service/internal/tracking"
)

type published struct {
	name    string
	payload any
}

// recordingBus guarda lo publicado de forma sincrónica.
type recordingBus struct {
	mu  sync.Mutex
	out []published
	err error
}

func (b *recordingBus) Publish(_ context.Context, name string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, published{name: name, payload: payload})
	return b.err
}

func (b *recordingBus) named(name string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []published
	for _, p := range b.out {
		if p.name == name {
			res = append(res, p)
		}
	}
	return res
}

var (
	fixedNow = time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	ayesha   = model.Customer{Name: "Ayesha", Phone: "03001234567"}
	bilal    = model.Rider{ID: "rider-1", Name: "Bilal"}
	kitchen  = model.System{Name: "kitchen"}
)

func newTestService(t *testing.T, opts Options) (*OrderService, *repository.MemoryOrderRepository, *recordingBus) {
	t.Helper()
	repo := repository.NewMemoryOrderRepository()
	bus := &recordingBus{}
	if opts.DeliveryFee == 0 {
		opts.DeliveryFee = DefaultDeliveryFee
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.NewOTP == nil {
		opts.NewOTP = func() (string, error) { return "4821", nil }
	}
	return NewOrderService(repo, bus, opts), repo, bus
}

func cartInput(items ...ItemInput) CreateOrderInput {
	if len(items) == 0 {
		items = []ItemInput{
			{ProductID: "smash-classic", Name: "Classic Smash", Quantity: 2, BasePrice: 500},
		}
	}
	return CreateOrderInput{
		Items: items,
		Address: &model.Address{
			Label: model.LabelHome, Details: "House 123, Street 4", Area: "DHA Phase 6", City: "Lahore",
		},
		Customer: ayesha,
	}
}

func placeOrder(t *testing.T, svc *OrderService) *model.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), cartInput())
	require.NoError(t, err)
	return o
}

// seed deja una orden directamente en el estado pedido.
func seed(t *testing.T, repo *repository.MemoryOrderRepository, id string, status model.Status) {
	t.Helper()
	seq := int64(1)
	for i, st := range model.Statuses {
		if st == status {
			seq = int64(i + 1)
		}
	}
	require.NoError(t, repo.Insert(context.Background(), &model.Order{
		ID:            id,
		Items:         []model.LineItem{{ProductID: "p", Name: "p", Quantity: 1, BasePrice: 1000, UnitPrice: 1000}},
		Subtotal:      1000,
		DeliveryFee:   150,
		Total:         1150,
		Status:        status,
		Seq:           seq,
		PaymentMethod: model.PaymentCashOnDelivery,
		CustomerName:  ayesha.Name,
		CustomerPhone: ayesha.Phone,
		OTP:           "4821",
		History:       []model.StatusRecord{{Status: status, Seq: seq, Current: true}},
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
		SchemaVersion: model.SchemaVersion,
	}))
}

func TestCreateOrder(t *testing.T) {
	svc, _, bus := newTestService(t, Options{NewOTP: newOTP})

	o, err := svc.CreateOrder(context.Background(), cartInput())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^FOUR[A-HJ-NP-Z2-9]{8}$`), o.ID)
	assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{3}$`), o.OTP)
	assert.Equal(t, model.StatusPlaced, o.Status)
	assert.Equal(t, int64(1), o.Seq)
	assert.Equal(t, int64(1000), o.Subtotal)
	assert.Equal(t, int64(150), o.DeliveryFee)
	assert.Equal(t, int64(1150), o.Total)
	assert.Equal(t, model.PaymentCashOnDelivery, o.PaymentMethod)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.Equal(t, "Ayesha", o.CustomerName)
	assert.Equal(t, "03001234567", o.CustomerPhone)
	assert.Equal(t, "Lahore", o.DeliveryAddress.City)
	require.Len(t, o.History, 1)
	assert.True(t, o.History[0].Current)

	got := bus.named(events.NewOrder)
	require.Len(t, got, 1)
	sent := got[0].payload.(*model.Order)
	assert.Equal(t, o.ID, sent.ID)
	assert.Empty(t, sent.OTP, "el evento no lleva el código de entrega")
}

func TestCreateOrderCapturesPrices(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})

	in := cartInput(ItemInput{
		ProductID: "smash-double", Name: "Double Smash", Quantity: 2, BasePrice: 900,
		Size:   &model.Option{Name: "Triple", Price: 1200},
		Addons: []model.Option{{Name: "Cheese", Price: 100}},
	})
	o, err := svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, int64(1300), o.Items[0].UnitPrice)
	assert.Equal(t, int64(2600), o.Subtotal)
	assert.Equal(t, int64(2750), o.Total)

	// cambiar el input después no afecta lo guardado
	in.Address.City = "Karachi"
	stored, err := repo.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lahore", stored.DeliveryAddress.City)
}

func TestCreateOrderUniqueIDs(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		o := placeOrder(t, svc)
		assert.False(t, seen[o.ID], "id repetido %s", o.ID)
		seen[o.ID] = true
	}
}

func TestCreateOrderRetriesOnCollision(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	seed(t, repo, "FOURTAKEN1", model.StatusPlaced)

	ids := []string{"FOURTAKEN1", "FOURTAKEN1", "FOURFRESH1"}
	svc.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	o, err := svc.CreateOrder(context.Background(), cartInput())
	require.NoError(t, err)
	assert.Equal(t, "FOURFRESH1", o.ID)

	svc.newID = func() (string, error) { return "FOURTAKEN1", nil }
	_, err = svc.CreateOrder(context.Background(), cartInput())
	assert.ErrorIs(t, err, repository.ErrDuplicateID)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, bus := newTestService(t, Options{})
	total := func(v int64) *int64 { return &v }

	cases := map[string]struct {
		mutate func(*CreateOrderInput)
		field  string
	}{
		"empty cart":      {func(in *CreateOrderInput) { in.Items = nil }, "Items"},
		"missing address": {func(in *CreateOrderInput) { in.Address = nil }, "Address"},
		"blank details":   {func(in *CreateOrderInput) { in.Address.Details = " " }, "Address.Details"},
		"zero quantity":   {func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }, "Items[0].Quantity"},
		"no phone":        {func(in *CreateOrderInput) { in.Customer.Phone = "" }, "Customer.Phone"},
		"bad payment":     {func(in *CreateOrderInput) { in.PaymentMethod = "card" }, "PaymentMethod"},
		"negative addon": {func(in *CreateOrderInput) {
			in.Items[0].Addons = []model.Option{{Name: "Sauce", Price: -5}}
		}, "Items[0].Addons[0].Price"},
		"total mismatch": {func(in *CreateOrderInput) { in.DeclaredTotal = total(1000) }, "DeclaredTotal"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := cartInput()
			tc.mutate(&in)

			_, err := svc.CreateOrder(context.Background(), in)
			require.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Fields, tc.field)
		})
	}
	assert.Empty(t, bus.named(events.NewOrder))

	in := cartInput()
	in.DeclaredTotal = total(1150)
	_, err := svc.CreateOrder(context.Background(), in)
	assert.NoError(t, err)
}

func TestCreateOrderCoupons(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	cases := []struct {
		code     string
		price    int64
		discount int64
		total    int64
		err      error
	}{
		{code: "FIRST20", price: 500, discount: 200, total: 950},
		{code: " first20 ", price: 500, discount: 200, total: 950},
		{code: "LAHORE50", price: 500, discount: 500, total: 650},
		{code: "FOURSMASH", price: 500, discount: 300, total: 850},
		{code: "FOURSMASH", price: 50, discount: 300, total: 0},
		{code: "RAMADAN", price: 500, err: ErrCouponExpired},
		{code: "EID2024", price: 500, err: ErrCouponExpired},
		{code: "FREEBURGER", price: 500, err: ErrCouponInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			in := cartInput(ItemInput{ProductID: "p", Name: "p", Quantity: 2, BasePrice: tc.price})
			in.CouponCode = tc.code

			o, err := svc.CreateOrder(context.Background(), in)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.discount, o.Discount)
			assert.Equal(t, tc.total, o.Total)
			assert.GreaterOrEqual(t, o.Total, int64(0))
		})
	}
}

func TestTransitionTable(t *testing.T) {
	stranger := model.Customer{Name: "Other", Phone: "03339999999"}
	owner := model.Owner{ID: "owner-1", Name: "Owner"}

	cases := []struct {
		from  model.Status
		to    model.Status
		actor model.Actor
		want  error
	}{
		{model.StatusPlaced, model.StatusPreparing, bilal, nil},
		{model.StatusPlaced, model.StatusPreparing, kitchen, nil},
		{model.StatusPlaced, model.StatusPreparing, ayesha, ErrForbidden},
		{model.StatusPlaced, model.StatusPreparing, owner, ErrForbidden},
		{model.StatusPlaced, model.StatusCancelled, ayesha, nil},
		{model.StatusPlaced, model.StatusCancelled, kitchen, nil},
		{model.StatusPlaced, model.StatusCancelled, stranger, ErrForbidden},
		{model.StatusPlaced, model.StatusCancelled, bilal, ErrForbidden},
		{model.StatusPlaced, model.StatusOutForDelivery, bilal, ErrInvalidTransition},
		{model.StatusPlaced, model.StatusDelivered, bilal, ErrInvalidTransition},
		{model.StatusPlaced, model.StatusPlaced, bilal, ErrInvalidTransition},
		{model.StatusPlaced, "shipped", bilal, ErrInvalidTransition},
		{model.StatusPreparing, model.StatusOutForDelivery, bilal, nil},
		{model.StatusPreparing, model.StatusOutForDelivery, kitchen, ErrForbidden},
		{model.StatusPreparing, model.StatusCancelled, ayesha, nil},
		{model.StatusPreparing, model.StatusPlaced, bilal, ErrInvalidTransition},
		{model.StatusOutForDelivery, model.StatusDelivered, bilal, ErrOTPRequired},
		{model.StatusOutForDelivery, model.StatusCancelled, ayesha, ErrInvalidTransition},
		{model.StatusOutForDelivery, model.StatusCancelled, kitchen, ErrInvalidTransition},
		{model.StatusOutForDelivery, model.StatusPreparing, bilal, ErrInvalidTransition},
		{model.StatusDelivered, model.StatusCancelled, kitchen, ErrFinalState},
		{model.StatusCancelled, model.StatusPreparing, bilal, ErrFinalState},
	}

	for _, tc := range cases {
		name := string(tc.from) + "->" + string(tc.to) + "/" + string(tc.actor.ActorRole())
		t.Run(name, func(t *testing.T) {
			svc, repo, bus := newTestService(t, Options{})
			seed(t, repo, "FOURGRID", tc.from)

			err := svc.UpdateStatus(context.Background(), "FOURGRID", tc.to, tc.actor, "")
			got, findErr := repo.FindByID(context.Background(), "FOURGRID")
			require.NoError(t, findErr)

			if tc.want == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got.Status)
				require.Len(t, bus.named(events.OrderStatusUpdate), 1)
				return
			}
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.from, got.Status, "el estado no cambia")
			assert.Empty(t, bus.named(events.OrderStatusUpdate))
		})
	}
}

func TestOTPRequiredIsInvalidTransition(t *testing.T) {
	assert.ErrorIs(t, ErrOTPRequired, ErrInvalidTransition)
	assert.ErrorIs(t, ErrFinalState, ErrInvalidTransition)
}

func TestPlacedToOutForDeliveryDirectly(t *testing.T) {
	svc, _, bus := newTestService(t, Options{})
	o := placeOrder(t, svc)

	err := svc.UpdateStatus(context.Background(), o.ID, model.StatusOutForDelivery, bilal, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err := svc.GetStatus(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPlaced, status)
	assert.Empty(t, bus.named(events.OrderStatusUpdate))
}

func TestFullLifecyclePublishesInOrder(t *testing.T) {
	svc, repo, bus := newTestService(t, Options{})
	ctx := context.Background()
	o := placeOrder(t, svc)

	require.NoError(t, svc.UpdateStatus(ctx, o.ID, model.StatusPreparing, bilal, "aceptada"))
	require.NoError(t, svc.UpdateStatus(ctx, o.ID, model.StatusOutForDelivery, bilal, ""))
	require.NoError(t, svc.VerifyAndComplete(ctx, o.ID, "4821", bilal))

	updates := bus.named(events.OrderStatusUpdate)
	require.Len(t, updates, 3)
	wantStatus := []model.Status{model.StatusPreparing, model.StatusOutForDelivery, model.StatusDelivered}
	for i, p := range updates {
		u := p.payload.(events.StatusUpdate)
		assert.Equal(t, o.ID, u.OrderID)
		assert.Equal(t, wantStatus[i], u.Status)
		assert.Equal(t, int64(i+2), u.Seq)
	}

	stored, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 4)
	assert.Equal(t, "aceptada", stored.History[1].Reason)
	assert.Equal(t, model.RoleRider, stored.History[1].ActorRole)
	assert.Equal(t, "rider-1", stored.History[1].ActorID)
	assert.Equal(t, model.StatusDelivered, stored.CurrentRecord().Status)
}

func TestVerifyAndComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("match", func(t *testing.T) {
		svc, repo, bus := newTestService(t, Options{})
		seed(t, repo, "FOUROTP1", model.StatusOutForDelivery)

		require.NoError(t, svc.VerifyAndComplete(ctx, "FOUROTP1", "4821", bilal))

		status, _ := svc.GetStatus(ctx, "FOUROTP1")
		assert.Equal(t, model.StatusDelivered, status)
		updates := bus.named(events.OrderStatusUpdate)
		require.Len(t, updates, 1)
		assert.Equal(t, model.StatusDelivered, updates[0].payload.(events.StatusUpdate).Status)
	})

	t.Run("mismatch", func(t *testing.T) {
		svc, repo, bus := newTestService(t, Options{})
		seed(t, repo, "FOUROTP2", model.StatusOutForDelivery)

		for i := 0; i < 5; i++ {
			assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP2", "0000", bilal), ErrOTPMismatch)
		}

		status, _ := svc.GetStatus(ctx, "FOUROTP2")
		assert.Equal(t, model.StatusOutForDelivery, status)
		assert.Empty(t, bus.named(events.OrderStatusUpdate))

		// sin límite configurado el código correcto sigue funcionando
		require.NoError(t, svc.VerifyAndComplete(ctx, "FOUROTP2", "4821", bilal))
	})

	t.Run("not out for delivery", func(t *testing.T) {
		svc, repo, _ := newTestService(t, Options{})
		seed(t, repo, "FOUROTP3", model.StatusPreparing)
		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP3", "4821", bilal), ErrInvalidTransition)
	})

	t.Run("customer cannot complete", func(t *testing.T) {
		svc, repo, _ := newTestService(t, Options{})
		seed(t, repo, "FOUROTP4", model.StatusOutForDelivery)
		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP4", "4821", ayesha), ErrForbidden)
	})

	t.Run("missing order", func(t *testing.T) {
		svc, _, _ := newTestService(t, Options{})
		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOURNONE", "4821", bilal), ErrNotFound)
	})

	t.Run("lockout", func(t *testing.T) {
		svc, repo, _ := newTestService(t, Options{OTPMaxAttempts: 2})
		seed(t, repo, "FOUROTP5", model.StatusOutForDelivery)

		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP5", "1111", bilal), ErrOTPMismatch)
		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP5", "2222", bilal), ErrOTPMismatch)
		assert.ErrorIs(t, svc.VerifyAndComplete(ctx, "FOUROTP5", "4821", bilal), ErrOTPLocked)

		status, _ := svc.GetStatus(ctx, "FOUROTP5")
		assert.Equal(t, model.StatusOutForDelivery, status)
	})
}

func TestCancelOrder(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()
	o := placeOrder(t, svc)

	require.NoError(t, svc.CancelOrder(ctx, o.ID, ayesha, ""))
	stored, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	assert.Equal(t, "Cancelada", stored.CurrentRecord().Reason)

	assert.ErrorIs(t, svc.CancelOrder(ctx, o.ID, ayesha, ""), ErrFinalState)
}

func TestConcurrentStatusUpdatesAreSerialized(t *testing.T) {
	svc, repo, bus := newTestService(t, Options{})
	ctx := context.Background()
	o := placeOrder(t, svc)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.UpdateStatus(ctx, o.ID, model.StatusPreparing, bilal, "")
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)

	stored, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Seq)
	assert.Len(t, stored.History, 2)
	assert.Len(t, bus.named(events.OrderStatusUpdate), 1)
}

// pausedRepo retiene cada lectura hasta que todos los lectores esperados
// leyeron, como dos réplicas que ven la misma versión de la orden.
type pausedRepo struct {
	*repository.MemoryOrderRepository
	reads *sync.WaitGroup
}

func (r pausedRepo) FindByID(ctx context.Context, id string) (*model.Order, error) {
	o, err := r.MemoryOrderRepository.FindByID(ctx, id)
	r.reads.Done()
	r.reads.Wait()
	return o, err
}

func TestReplicasCannotBothWriteFromSameRead(t *testing.T) {
	shared := repository.NewMemoryOrderRepository()
	ctx := context.Background()
	require.NoError(t, shared.Insert(ctx, &model.Order{
		ID:            "FOURRACE",
		Status:        model.StatusPreparing,
		Seq:           2,
		CustomerPhone: ayesha.Phone,
		OTP:           "4821",
		History: []model.StatusRecord{
			{Status: model.StatusPlaced, Seq: 1},
			{Status: model.StatusPreparing, Seq: 2, Current: true},
		},
		SchemaVersion: model.SchemaVersion,
	}))

	reads := &sync.WaitGroup{}
	reads.Add(2)
	opts := Options{Now: func() time.Time { return fixedNow }}
	cancelBus, dispatchBus := &recordingBus{}, &recordingBus{}
	replicaA := NewOrderService(pausedRepo{shared, reads}, cancelBus, opts)
	replicaB := NewOrderService(pausedRepo{shared, reads}, dispatchBus, opts)

	var (
		wg                     sync.WaitGroup
		errCancel, errDispatch error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCancel = replicaA.CancelOrder(ctx, "FOURRACE", ayesha, "")
	}()
	go func() {
		defer wg.Done()
		errDispatch = replicaB.UpdateStatus(ctx, "FOURRACE", model.StatusOutForDelivery, bilal, "")
	}()
	wg.Wait()

	require.True(t, (errCancel == nil) != (errDispatch == nil), "cancel=%v dispatch=%v", errCancel, errDispatch)

	stored, err := shared.FindByID(ctx, "FOURRACE")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Seq)
	require.Len(t, stored.History, 3)
	seen := map[int64]bool{}
	for _, rec := range stored.History {
		assert.False(t, seen[rec.Seq], "seq %d repetido", rec.Seq)
		seen[rec.Seq] = true
	}

	if errCancel == nil {
		assert.ErrorIs(t, errDispatch, ErrInvalidTransition)
		assert.Equal(t, model.StatusCancelled, stored.Status)
		assert.Empty(t, dispatchBus.named(events.OrderStatusUpdate))
	} else {
		assert.ErrorIs(t, errCancel, ErrInvalidTransition)
		assert.Equal(t, model.StatusOutForDelivery, stored.Status)
		assert.Empty(t, cancelBus.named(events.OrderStatusUpdate))
	}
}

func TestRiderLocation(t *testing.T) {
	svc, _, bus := newTestService(t, Options{})
	ctx := context.Background()
	o := placeOrder(t, svc)

	loc, err := svc.GetRiderLocation(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, loc)

	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.5, 74.3))
	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.6, 74.31))

	loc, err = svc.GetRiderLocation(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 31.6, loc.Lat)
	assert.Equal(t, 74.31, loc.Lng)

	updates := bus.named(events.RiderLocationUpdate)
	require.Len(t, updates, 2)
	last := updates[1].payload.(events.LocationUpdate)
	assert.Equal(t, events.LocationUpdate{OrderID: o.ID, Lat: 31.6, Lng: 74.31, Timestamp: fixedNow}, last)

	assert.ErrorIs(t, svc.UpdateRiderLocation(ctx, "FOURNONE", 31.5, 74.3), ErrNotFound)
	assert.ErrorIs(t, svc.UpdateRiderLocation(ctx, o.ID, 91, 74.3), ErrValidation)
}

func TestRiderLocationThrottle(t *testing.T) {
	now := fixedNow
	svc, _, bus := newTestService(t, Options{
		LocationMinInterval: 2 * time.Second,
		Now:                 func() time.Time { return now },
	})
	ctx := context.Background()
	o := placeOrder(t, svc)

	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.5, 74.3))
	now = now.Add(500 * time.Millisecond)
	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.55, 74.35))
	now = now.Add(2 * time.Second)
	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.6, 74.31))

	assert.Len(t, bus.named(events.RiderLocationUpdate), 2)
	loc, err := svc.GetRiderLocation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 31.6, loc.Lat)
}

func TestRiderLocationRejectedOnceFinal(t *testing.T) {
	svc, repo, bus := newTestService(t, Options{LocationMinInterval: 2 * time.Second})
	ctx := context.Background()
	seed(t, repo, "FOURDONE", model.StatusOutForDelivery)
	o := placeOrder(t, svc)

	require.NoError(t, svc.UpdateRiderLocation(ctx, "FOURDONE", 31.5, 74.3))
	require.NoError(t, svc.UpdateRiderLocation(ctx, o.ID, 31.5, 74.3))
	assert.Len(t, svc.lastLocAt, 2)

	require.NoError(t, svc.VerifyAndComplete(ctx, "FOURDONE", "4821", bilal))
	require.NoError(t, svc.CancelOrder(ctx, o.ID, ayesha, ""))
	assert.Empty(t, svc.lastLocAt, "las órdenes cerradas no dejan entradas")

	err := svc.UpdateRiderLocation(ctx, "FOURDONE", 31.6, 74.31)
	assert.ErrorIs(t, err, ErrFinalState)
	assert.ErrorIs(t, svc.UpdateRiderLocation(ctx, o.ID, 31.6, 74.31), ErrFinalState)

	assert.Len(t, bus.named(events.RiderLocationUpdate), 2)
	loc, err := svc.GetRiderLocation(ctx, "FOURDONE")
	require.NoError(t, err)
	assert.Equal(t, 31.5, loc.Lat)
}

func TestGetStatusDefaultsToPlaced(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	status, err := svc.GetStatus(context.Background(), "FOURNOTYET")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPlaced, status)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	svc, repo, bus := newTestService(t, Options{})
	bus.err = errors.New("broker caído")

	o, err := svc.CreateOrder(context.Background(), cartInput())
	require.NoError(t, err)
	require.NoError(t, svc.UpdateStatus(context.Background(), o.ID, model.StatusPreparing, bilal, ""))

	stored, err := repo.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPreparing, stored.Status)
}

func TestTrack(t *testing.T) {
	route := tracking.Route{
		Kitchen:  tracking.Point{Lat: 31.52, Lng: 74.35},
		Customer: tracking.Point{Lat: 31.47, Lng: 74.27},
	}
	svc, repo, _ := newTestService(t, Options{Route: route})
	ctx := context.Background()
	seed(t, repo, "FOURTRACK", model.StatusOutForDelivery)

	v, err := svc.Track(ctx, "FOURTRACK")
	require.NoError(t, err)
	assert.Equal(t, 2, v.CurrentStep)
	assert.Equal(t, tracking.MarkerMidpoint, v.Rider.Source)

	require.NoError(t, svc.UpdateRiderLocation(ctx, "FOURTRACK", 31.5, 74.3))
	v, err = svc.Track(ctx, "FOURTRACK")
	require.NoError(t, err)
	assert.Equal(t, tracking.MarkerGPS, v.Rider.Source)

	_, err = svc.Track(ctx, "FOURNONE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDashboard(t *testing.T) {
	svc, repo, _ := newTestService(t, Options{})
	ctx := context.Background()

	seed(t, repo, "FOURD1", model.StatusDelivered)
	seed(t, repo, "FOURD2", model.StatusDelivered)
	seed(t, repo, "FOURC1", model.StatusCancelled)
	seed(t, repo, "FOURP1", model.StatusPlaced)
	require.NoError(t, svc.UpdateStatus(ctx, "FOURP1", model.StatusPreparing, bilal, ""))
	seed(t, repo, "FOURP2", model.StatusPlaced)

	d, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, d.TotalOrders)
	assert.Equal(t, 2, d.ActiveOrders)
	assert.Equal(t, 1, d.ActiveRiders)
	assert.Equal(t, int64(2300), d.Revenue)
	assert.Equal(t, int64(1150), d.AverageTicket)
	assert.Equal(t, 2, d.ByStatus[model.StatusDelivered])
	assert.Equal(t, 1, d.ByStatus[model.StatusPreparing])
	assert.Equal(t, 0, d.ByStatus[model.StatusOutForDelivery])
}

func TestNextStatuses(t *testing.T) {
	assert.Equal(t, []model.Status{model.StatusPreparing}, NextStatuses(model.StatusPlaced, model.RoleRider))
	assert.Equal(t, []model.Status{model.StatusCancelled}, NextStatuses(model.StatusPreparing, model.RoleCustomer))
	assert.Equal(t, []model.Status{model.StatusDelivered}, NextStatuses(model.StatusOutForDelivery, model.RoleRider))
	assert.Empty(t, NextStatuses(model.StatusDelivered, model.RoleRider))
}

func TestQuoteCart(t *testing.T) {
	svc, repo, bus := newTestService(t, Options{})

	q, err := svc.QuoteCart([]ItemInput{
		{ProductID: "smash-classic", Name: "Classic Smash", Quantity: 2, BasePrice: 500},
	}, " first20 ")
	require.NoError(t, err)
	assert.Equal(t, Quote{Subtotal: 1000, DeliveryFee: 150, Discount: 200, CouponCode: "FIRST20", Total: 950}, q)

	_, err = svc.QuoteCart(nil, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.QuoteCart([]ItemInput{{ProductID: "p", Name: "p", Quantity: 0}}, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.QuoteCart([]ItemInput{{ProductID: "p", Name: "p", Quantity: 1, BasePrice: 100}}, "RAMADAN")
	assert.ErrorIs(t, err, ErrCouponExpired)

	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, bus.out)
}
