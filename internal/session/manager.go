package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trio-stream/internal/history"
)

const invalidateTimeout = 500 * time.Millisecond

// Unsubscribe deja de entregar snapshots. Es idempotente.
type Unsubscribe func()

type entry struct {
	// ready se cierra cuando termina la carga del historial.
	ready   chan struct{}
	session *Session
	box     *mailbox
	err     error

	// refs cuenta suscriptores y suscripciones en curso; protegido por Manager.mu.
	refs        int
	destroyOnce sync.Once
}

// key identifica una sesion. Dos owners nunca comparten sesion aunque observen
// el mismo chat; owner vacio es el modo local de un solo usuario.
type key struct {
	owner  string
	chatID string
}

// Manager mantiene una Session por chat observado. La sesion nace con el primer
// suscriptor y se destruye, cancelando su stream, cuando se va el ultimo.
type Manager struct {
	mu       sync.Mutex
	sessions map[key]*entry

	history  history.Provider
	opener   Opener
	logger   *zap.Logger
	recorder Recorder
}

type ManagerOption func(*Manager)

// WithManagerRecorder reporta sesiones y turnos a r.
func WithManagerRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

func NewManager(provider history.Provider, opener Opener, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[key]*entry),
		history:  provider,
		opener:   opener,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registra fn para chatID. fn recibe primero el snapshot actual y
// luego cada transicion, en orden y desde otra goroutine.
func (m *Manager) Subscribe(ctx context.Context, chatID string, fn func(Snapshot)) (Unsubscribe, error) {
	return m.For("").Subscribe(ctx, chatID, fn)
}

func (m *Manager) subscribe(ctx context.Context, k key, fn func(Snapshot)) (Unsubscribe, error) {
	if k.chatID == "" {
		return nil, ErrInvalidChatID
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", k.chatID)
	}

	m.mu.Lock()
	e, ok := m.sessions[k]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		m.sessions[k] = e
	}
	e.refs++
	m.mu.Unlock()

	if !ok {
		m.seed(ctx, k, e)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		m.release(k, e, 0)
		return nil, ctx.Err()
	}
	if e.err != nil {
		m.release(k, e, 0)
		return nil, e.err
	}

	var id uint64
	e.session.attach(func(snap Snapshot) {
		id = e.box.add(fn, snap)
	})

	var once sync.Once
	return func() {
		once.Do(func() { m.release(k, e, id) })
	}, nil
}

func (m *Manager) seed(ctx context.Context, k key, e *entry) {
	defer close(e.ready)

	chat, err := m.history.Load(ctx, k.owner, k.chatID)
	if err != nil {
		m.logger.Warn("load chat history failed", zap.String("chat_id", k.chatID), zap.String("owner", k.owner), zap.Error(err))
		e.err = fmt.Errorf("load chat %s: %w", k.chatID, err)
		return
	}
	chat.ID = k.chatID

	box := newMailbox(m.logger)
	e.box = box
	e.session = New(chat, m.opener,
		WithLogger(m.logger),
		WithRecorder(m.recorder),
		WithNotifier(box.broadcast),
		WithOnComplete(func() { m.invalidate(k) }),
	)
	m.recorder.SessionOpened()
	m.logger.Info("session created",
		zap.String("chat_id", k.chatID),
		zap.String("owner", k.owner),
		zap.Int("messages", len(chat.Messages)),
		zap.Int("agents", len(chat.Agents)),
	)
}

func (m *Manager) release(k key, e *entry, id uint64) {
	if id != 0 {
		e.box.remove(id)
	}

	m.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && m.sessions[k] == e {
		delete(m.sessions, k)
	}
	m.mu.Unlock()

	if last && e.session != nil {
		m.destroy(e)
		m.logger.Info("session destroyed", zap.String("chat_id", k.chatID), zap.String("owner", k.owner))
	}
}

func (m *Manager) invalidate(k key) {
	inv, ok := m.history.(history.Invalidator)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := inv.Invalidate(ctx, k.owner, k.chatID); err != nil {
		m.logger.Warn("invalidate chat history failed", zap.String("chat_id", k.chatID), zap.Error(err))
	}
}

// lookup devuelve la sesion viva de k.
func (m *Manager) lookup(k key) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[k]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	select {
	case <-e.ready:
	default:
		return nil, ErrNoSession
	}
	if e.session == nil {
		return nil, ErrNoSession
	}
	return e.session, nil
}

// Send inicia un turno en la sesion de chatID.
func (m *Manager) Send(ctx context.Context, chatID, content string) error {
	return m.For("").Send(ctx, chatID, content)
}

// Cancel aborta el turno en curso de chatID, si lo hay.
func (m *Manager) Cancel(chatID string) error {
	return m.For("").Cancel(chatID)
}

// Reset reconoce el resultado del ultimo turno de chatID.
func (m *Manager) Reset(chatID string) error {
	return m.For("").Reset(chatID)
}

// Snapshot devuelve el estado actual de chatID.
func (m *Manager) Snapshot(chatID string) (Snapshot, error) {
	return m.For("").Snapshot(chatID)
}

// For devuelve las sesiones de owner. El bridge usa el id de usuario del JWT:
// un usuario solo ve y opera sesiones que el mismo abrio.
func (m *Manager) For(owner string) *Scope {
	return &Scope{m: m, owner: owner}
}

// Scope expone las operaciones del Manager restringidas a un owner.
type Scope struct {
	m     *Manager
	owner string
}

func (s *Scope) keyFor(chatID string) key {
	return key{owner: s.owner, chatID: strings.TrimSpace(chatID)}
}

func (s *Scope) Subscribe(ctx context.Context, chatID string, fn func(Snapshot)) (Unsubscribe, error) {
	return s.m.subscribe(ctx, s.keyFor(chatID), fn)
}

func (s *Scope) Send(ctx context.Context, chatID, content string) error {
	sess, err := s.m.lookup(s.keyFor(chatID))
	if err != nil {
		return err
	}
	return sess.Send(ctx, content)
}

func (s *Scope) Cancel(chatID string) error {
	sess, err := s.m.lookup(s.keyFor(chatID))
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

func (s *Scope) Reset(chatID string) error {
	sess, err := s.m.lookup(s.keyFor(chatID))
	if err != nil {
		return err
	}
	return sess.Reset()
}

func (s *Scope) Snapshot(chatID string) (Snapshot, error) {
	sess, err := s.m.lookup(s.keyFor(chatID))
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Close destruye todas las sesiones. Se usa en el shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[key]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.session != nil {
			m.destroy(e)
		}
	}
}

func (m *Manager) destroy(e *entry) {
	e.destroyOnce.Do(func() {
		e.session.Close()
		e.box.close()
		m.recorder.SessionClosed()
	})
}
