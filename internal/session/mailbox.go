package session

import (
	"sync"

	"go.uber.org/zap"
)

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// delivery con target != 0 va solo a ese suscriptor (snapshot inicial). Un
// broadcast llega a los suscriptores con id <= upTo, los existentes al encolarlo.
type delivery struct {
	snap   Snapshot
	target uint64
	upTo   uint64
}

// mailbox entrega snapshots en orden desde una goroutine propia, de modo que los
// callbacks nunca corren con el lock de la sesion tomado y pueden volver a
// llamar al Manager.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []delivery
	subs   []subscriber
	lastID uint64
	closed bool
	done   chan struct{}
	logger *zap.Logger
}

func newMailbox(logger *zap.Logger) *mailbox {
	b := &mailbox{done: make(chan struct{}), logger: logger}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// add registra fn y le encola snap como primera entrega.
func (b *mailbox) add(fn func(Snapshot), snap Snapshot) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	id := b.lastID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.enqueueLocked(delivery{snap: snap, target: id})
	return id
}

// remove deja de entregar a id, tambien lo ya encolado. Solo un callback que
// ya empezo puede terminar despues de que remove vuelva.
func (b *mailbox) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *mailbox) broadcast(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(delivery{snap: snap, upTo: b.lastID})
}

func (b *mailbox) enqueueLocked(d delivery) {
	if b.closed {
		return
	}
	b.queue = append(b.queue, d)
	b.cond.Signal()
}

// close detiene la entrega; lo pendiente se descarta. No espera a la goroutine
// porque puede llamarse desde un callback.
func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.queue = nil
	b.cond.Broadcast()
}

func (b *mailbox) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue[0] = delivery{}
		b.queue = b.queue[1:]
		targets := b.targetsLocked(d)
		b.mu.Unlock()

		// Un callback anterior puede haber desuscripto a otro target.
		for _, sub := range targets {
			if b.subscribed(sub.id) {
				b.deliver(sub.fn, d.snap)
			}
		}
	}
}

func (b *mailbox) targetsLocked(d delivery) []subscriber {
	var out []subscriber
	for _, sub := range b.subs {
		switch {
		case d.target != 0:
			if sub.id == d.target {
				return []subscriber{sub}
			}
		case sub.id <= d.upTo:
			out = append(out, sub)
		}
	}
	return out
}

func (b *mailbox) subscribed(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	for _, sub := range b.subs {
		if sub.id == id {
			return true
		}
	}
	return false
}

func (b *mailbox) deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", zap.String("chat_id", snap.ChatID), zap.Any("panic", r))
		}
	}()
	fn(snap)
}
