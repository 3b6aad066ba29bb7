package controller

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"order-tracking-service/internal/dto"
	"order-tracking-service/internal/events"
	"order-tracking-service/internal/model"
	"order-tracking-service/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	feedCapacity = 64
)

var errSlowConsumer = errors.New("slow consumer")

// StreamController empuja por websocket lo que pasa en el bus.
type StreamController struct {
	Service  *service.OrderService
	Bus      events.Bus
	upgrader websocket.Upgrader
}

func NewStreamController(s *service.OrderService, bus events.Bus) *StreamController {
	return &StreamController{Service: s, Bus: bus}
}

// feed junta eventos del bus sin bloquear al dispatcher. Si el cliente no
// consume a tiempo se marca overflow y la conexión se cierra.
type feed struct {
	ch       chan events.Event
	overflow chan struct{}
	once     sync.Once
	subs     []*events.Subscription
}

func newFeed(bus events.Bus, keep func(events.Event) bool, names ...string) *feed {
	f := &feed{ch: make(chan events.Event, feedCapacity), overflow: make(chan struct{})}
	for _, name := range names {
		f.subs = append(f.subs, bus.Subscribe(name, func(_ context.Context, ev events.Event) error {
			if keep != nil && !keep(ev) {
				return nil
			}
			select {
			case f.ch <- ev:
			default:
				f.once.Do(func() { close(f.overflow) })
			}
			return nil
		}))
	}
	return f
}

func (f *feed) Close() {
	for _, s := range f.subs {
		s.Cancel()
	}
}

func forOrder(orderID string) func(events.Event) bool {
	return func(ev events.Event) bool {
		var ref struct {
			OrderID string `json:"orderId"`
		}
		if err := ev.Decode(&ref); err != nil {
			return false
		}
		return ref.OrderID == orderID
	}
}

// GET /ws/orders/:orderId/track
func (s *StreamController) TrackOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	actor := actorOf(c)

	o, err := s.Service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !canView(actor, o) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you cannot view another user's order"})
		return
	}

	// primero la suscripción, después el snapshot: lo que llegue en el medio
	// lo descarta el tracker por seq.
	f := newFeed(s.Bus, forOrder(orderID), events.OrderStatusUpdate, events.RiderLocationUpdate)
	defer f.Close()

	tracker, err := s.Service.NewTracker(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade %s: %v", orderID, err)
		return
	}
	defer conn.Close()

	send := func() error {
		return s.write(conn, "tracking", tracker.View(s.Service.Now()))
	}
	err = s.pump(conn, f, send, func(ev events.Event) (bool, error) {
		switch ev.Name {
		case events.OrderStatusUpdate:
			var u events.StatusUpdate
			if err := ev.Decode(&u); err != nil {
				return false, err
			}
			return tracker.ApplyStatus(u), nil
		case events.RiderLocationUpdate:
			var u events.LocationUpdate
			if err := ev.Decode(&u); err != nil {
				return false, err
			}
			return tracker.ApplyLocation(u), nil
		}
		return false, nil
	})
	if err != nil {
		log.Printf("[WS] track %s cerrado: %v", orderID, err)
	}
}

// GET /ws/rider/feed - el rider recibe órdenes nuevas y cambios de estado
func (s *StreamController) RiderFeed(c *gin.Context) {
	f := newFeed(s.Bus, nil, events.NewOrder, events.OrderStatusUpdate)
	defer f.Close()

	orders, err := s.Service.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade rider feed: %v", err)
		return
	}
	defer conn.Close()

	if err := s.write(conn, "roster", visibleList(actorOf(c), orders)); err != nil {
		return
	}

	var pending events.Event
	send := func() error {
		if pending.Name == "" {
			return nil
		}
		if pending.Name == events.NewOrder {
			var o model.Order
			if err := pending.Decode(&o); err != nil {
				return err
			}
			return s.write(conn, pending.Name, o.WithoutOTP())
		}
		return s.write(conn, pending.Name, pending.Payload)
	}
	err = s.pump(conn, f, send, func(ev events.Event) (bool, error) {
		pending = ev
		return true, nil
	})
	if err != nil {
		log.Printf("[WS] rider feed cerrado: %v", err)
	}
}

// pump manda el estado inicial y después uno por cada evento que lo cambie.
// Todas las escrituras pasan por esta goroutine.
func (s *StreamController) pump(conn *websocket.Conn, f *feed, send func() error, apply func(events.Event) (bool, error)) error {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := send(); err != nil {
		return err
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return nil
		case <-f.overflow:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errSlowConsumer.Error()),
				time.Now().Add(writeWait))
			return errSlowConsumer
		case ev := <-f.ch:
			changed, err := apply(ev)
			if err != nil {
				log.Printf("[WS] evento %s descartado: %v", ev.Name, err)
				continue
			}
			if !changed {
				continue
			}
			if err := send(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *StreamController) write(conn *websocket.Conn, kind string, payload any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(dto.StreamMessage{Type: kind, SentAt: s.Service.Now(), Payload: payload})
}
