package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrBusClosed = errors.New("event bus cerrado")

type Option func(*InProcessBus)

// WithLatency demora cada entrega, simulando el viaje por la red.
func WithLatency(d time.Duration) Option {
	return func(b *InProcessBus) { b.latency = d }
}

// InProcessBus entrega eventos dentro del proceso. Cada nombre de evento
// tiene su propia goroutine de despacho, así que el orden se respeta por
// nombre y el publicador nunca espera a los handlers.
type InProcessBus struct {
	mu          sync.RWMutex
	subs        map[string][]*Subscription
	dispatchers map[string]*dispatcher
	closed      bool
	latency     time.Duration
	wg          sync.WaitGroup
}

type delivery struct {
	ev      Event
	targets []*Subscription
}

type dispatcher struct {
	mu    sync.Mutex
	queue []delivery
	wake  chan struct{}
	stop  chan struct{}
}

func NewInProcessBus(opts ...Option) *InProcessBus {
	b := &InProcessBus{
		subs:        make(map[string][]*Subscription),
		dispatchers: make(map[string]*dispatcher),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registra el handler. Los handlers de un mismo evento se invocan
// en orden de registro.
func (b *InProcessBus) Subscribe(name string, h Handler) *Subscription {
	sub := newSubscription(name, h, b.remove)
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()
	return sub
}

func (b *InProcessBus) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

func (b *InProcessBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[sub.Name]
	kept := make([]*Subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, sub.Name)
		return
	}
	b.subs[sub.Name] = kept
}

// Publish solo falla si el payload no se puede serializar o si el bus ya
// fue cerrado. Sin suscriptores el evento se descarta.
func (b *InProcessBus) Publish(ctx context.Context, name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	return b.Dispatch(ev)
}

// Dispatch encola un evento ya armado. Lo usan los puentes de broker para
// entregar localmente lo que llega de otros procesos.
func (b *InProcessBus) Dispatch(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	// los suscriptores se fijan en el momento de publicar
	targets := append([]*Subscription(nil), b.subs[ev.Name]...)
	if len(targets) == 0 {
		return nil
	}

	d, ok := b.dispatchers[ev.Name]
	if !ok {
		d = &dispatcher{
			wake: make(chan struct{}, 1),
			stop: make(chan struct{}),
		}
		b.dispatchers[ev.Name] = d
		b.wg.Add(1)
		go b.run(d)
	}
	d.enqueue(delivery{ev: ev, targets: targets})
	return nil
}

// Close deja de aceptar eventos y espera a que se entreguen los pendientes.
func (b *InProcessBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, d := range b.dispatchers {
		close(d.stop)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) enqueue(dl delivery) {
	d.mu.Lock()
	d.queue = append(d.queue, dl)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) next() (delivery, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return delivery{}, false
	}
	dl := d.queue[0]
	d.queue[0] = delivery{}
	d.queue = d.queue[1:]
	return dl, true
}

func (b *InProcessBus) run(d *dispatcher) {
	defer b.wg.Done()
	for {
		select {
		case <-d.wake:
			b.drain(d)
		case <-d.stop:
			b.drain(d)
			return
		}
	}
}

func (b *InProcessBus) drain(d *dispatcher) {
	for {
		dl, ok := d.next()
		if !ok {
			return
		}
		if b.latency > 0 {
			time.Sleep(b.latency)
		}
		for _, sub := range dl.targets {
			// una vista que se desuscribió antes de la entrega ya no recibe nada
			if !sub.Active() {
				continue
			}
			b.invoke(sub, dl.ev)
		}
	}
}

func (b *InProcessBus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] panic en handler %s (%s): %v", sub.ID, ev.Name, r)
		}
	}()
	if err := sub.handler(context.Background(), ev); err != nil {
		log.Printf("[Bus] error en handler %s (%s): %v", sub.ID, ev.Name, err)
	}
}
