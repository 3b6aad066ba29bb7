package service

import "sync"

// orderLocks serializa las escrituras de estado por orden. Las entradas se
// liberan cuando nadie las usa.
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[string]*orderLock)}
}

func (l *orderLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &orderLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// otpAttempts cuenta intentos fallidos por orden. max == 0 no limita.
type otpAttempts struct {
	max      int
	mu       sync.Mutex
	failures map[string]int
}

func newOTPAttempts(max int) *otpAttempts {
	return &otpAttempts{max: max, failures: make(map[string]int)}
}

func (a *otpAttempts) locked(id string) bool {
	if a.max <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[id] >= a.max
}

func (a *otpAttempts) fail(id string) {
	if a.max <= 0 {
		return
	}
	a.mu.Lock()
	a.failures[id]++
	a.mu.Unlock()
}

func (a *otpAttempts) reset(id string) {
	a.mu.Lock()
	delete(a.failures, id)
	a.mu.Unlock()
}
