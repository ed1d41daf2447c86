// Package session mantiene el estado vivo de cada chat mientras se recibe un
// turno por streaming y lo publica a los observadores.
package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trio-stream/internal/domain"
	"trio-stream/internal/stream"
	"trio-stream/internal/transport"
)

// Phase es la etapa del ciclo de vida de un turno.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseError     Phase = "error"
	PhaseComplete  Phase = "complete"
)

// Active indica si hay un stream en curso.
func (p Phase) Active() bool {
	return p == PhaseSending || p == PhaseStreaming
}

// Opener abre el stream de un turno.
type Opener interface {
	Open(ctx context.Context, chatID, content string) (stream.ChunkSource, error)
}

// OpenerFunc adapta una funcion a Opener.
type OpenerFunc func(ctx context.Context, chatID, content string) (stream.ChunkSource, error)

func (f OpenerFunc) Open(ctx context.Context, chatID, content string) (stream.ChunkSource, error) {
	return f(ctx, chatID, content)
}

// TransportOpener usa el cliente HTTP como Opener.
func TransportOpener(c *transport.Client) Opener {
	return OpenerFunc(func(ctx context.Context, chatID, content string) (stream.ChunkSource, error) {
		h, err := c.OpenStream(ctx, chatID, content)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

// Snapshot es la vista inmutable que reciben los observadores. Messages
// comparte memoria con la sesion: no se debe modificar.
type Snapshot struct {
	ChatID         string
	ChatName       string
	Phase          Phase
	Messages       []domain.Message
	InProgress     *domain.Message
	ActiveSenderID string
	Agents         []domain.Agent
	Err            error
	Warnings       int
}

// ErrorMessage devuelve el texto del error registrado, o "" si no hay.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Resultados de un turno informados al Recorder.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Recorder recibe el ciclo de vida de sesiones y turnos. Lo implementa metrics.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	TurnFinished(outcome string)
	ConsistencyWarning()
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened()      {}
func (nopRecorder) SessionClosed()      {}
func (nopRecorder) TurnFinished(string) {}
func (nopRecorder) ConsistencyWarning() {}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier registra la funcion que recibe cada transicion. Se invoca con
// el lock de la sesion tomado: no debe bloquear ni volver a llamar a la sesion.
func WithNotifier(fn func(Snapshot)) Option {
	return func(s *Session) { s.notify = fn }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithOnComplete registra un hook que corre cuando un turno termina con done.
func WithOnComplete(fn func()) Option {
	return func(s *Session) { s.onComplete = fn }
}

func withClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session es la maquina de estados de un chat: idle → sending → streaming →
// (complete | error), y de vuelta a idle al reconocerse el resultado.
type Session struct {
	mu sync.Mutex

	chat     domain.Chat
	messages []domain.Message
	phase    Phase
	active   *domain.Message
	buf      strings.Builder
	err      error
	warnings int
	closed   bool

	// gen identifica el stream vigente; eventos de streams anteriores se descartan.
	gen    uint64
	cancel context.CancelFunc
	src    stream.ChunkSource

	opener     Opener
	logger     *zap.Logger
	recorder   Recorder
	notify     func(Snapshot)
	onComplete func()
	now        func() time.Time
	newID      func() string
}

// New crea una sesion sembrada con el historial de chat.
func New(chat domain.Chat, opener Opener, opts ...Option) *Session {
	s := &Session{
		chat:     chat,
		messages: slices.Clone(chat.Messages),
		phase:    PhaseIdle,
		opener:   opener,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	s.chat.Messages = nil
	for _, opt := range opts {
		opt(s)
	}
	s.checkChat()
	return s
}

// checkChat normaliza el tipo de chat y avisa de agentes que el backend no
// aceptaria. Los agentes invalidos se conservan: solo aportan nombres.
func (s *Session) checkChat() {
	if s.chat.Type == "" {
		s.chat.Type = domain.ChatTypeDefault
	}
	if !s.chat.Type.IsValid() {
		s.logger.Warn("unknown chat type, using default",
			zap.String("chat_id", s.chat.ID),
			zap.String("type", string(s.chat.Type)),
		)
		s.chat.Type = domain.ChatTypeDefault
	}
	for _, a := range s.chat.Agents {
		if err := a.Validate(); err != nil {
			s.logger.Warn("invalid agent in roster",
				zap.String("chat_id", s.chat.ID),
				zap.String("agent_id", a.ID),
				zap.Int("traits", len(a.Traits)),
				zap.Error(err),
			)
		}
	}
}

func (s *Session) ChatID() string {
	return s.chat.ID
}

// Snapshot devuelve el estado observable actual.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send inicia un turno. Entra a sending de forma sincronica y abre el stream en
// background. Con un stream abierto devuelve *BusyError sin tocar el estado.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return transport.ErrInvalidInput
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.phase.Active() {
		s.mu.Unlock()
		return &BusyError{ChatID: s.chat.ID, Phase: s.phase}
	}

	s.discardLocked()
	s.err = nil
	s.phase = PhaseSending
	s.gen++
	gen := s.gen
	// El stream sobrevive a la request que lo inicio, pero conserva sus valores (credenciales).
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.publishLocked()
	s.mu.Unlock()

	go s.run(streamCtx, gen, content)
	return nil
}

// Apply pliega un evento del decoder sobre el estado. Solo es valido en streaming.
func (s *Session) Apply(ev stream.Event) error {
	s.mu.Lock()
	if s.phase != PhaseStreaming {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	s.applyLocked(ev)
	s.publishLocked()
	s.mu.Unlock()

	if ev.Kind == stream.KindDone {
		s.completed()
	}
	return nil
}

// Cancel cierra el stream en curso, descarta el mensaje parcial y vuelve a idle.
// Es seguro en cualquier fase; en idle no hace nada.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseIdle {
		return
	}
	if s.phase.Active() {
		s.recorder.TurnFinished(OutcomeCanceled)
	}
	s.gen++
	s.closeStreamLocked()
	s.discardLocked()
	s.err = nil
	s.phase = PhaseIdle
	s.publishLocked()
}

// Reset reconoce un resultado complete o error y vuelve a idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Active() {
		return &BusyError{ChatID: s.chat.ID, Phase: s.phase}
	}
	if s.phase == PhaseIdle {
		return nil
	}
	s.err = nil
	s.phase = PhaseIdle
	s.publishLocked()
	return nil
}

// Close destruye la sesion: cancela el stream y rechaza envios posteriores.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.closeStreamLocked()
	s.discardLocked()
	if s.phase.Active() {
		s.recorder.TurnFinished(OutcomeCanceled)
		s.phase = PhaseIdle
	}
}

// attach ejecuta fn con el snapshot actual bajo el lock, de modo que ninguna
// transicion quede entre ese snapshot y las siguientes notificaciones.
func (s *Session) attach(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

func (s *Session) run(ctx context.Context, gen uint64, content string) {
	src, err := s.opener.Open(ctx, s.chat.ID, content)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if src != nil {
			src.Close()
		}
		return
	}
	if err != nil {
		s.logger.Warn("open stream failed", zap.String("chat_id", s.chat.ID), zap.Error(err))
		s.closeStreamLocked()
		s.err = err
		s.phase = PhaseError
		s.recorder.TurnFinished(OutcomeError)
		s.publishLocked()
		s.mu.Unlock()
		return
	}
	s.src = src
	s.phase = PhaseStreaming
	s.publishLocked()
	s.mu.Unlock()

	st := stream.NewStream(src)
	defer st.Close()
	for {
		ev, ok := st.Next()
		if !ok {
			break
		}
		if !s.applyFrom(gen, ev) {
			return
		}
	}

	// La secuencia termino sin evento terminal: solo pasa si el stream se cancelo.
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.phase == PhaseStreaming {
		s.discardLocked()
		s.closeStreamLocked()
		s.err = transport.ErrCanceled
		s.phase = PhaseError
		s.recorder.TurnFinished(OutcomeError)
		s.publishLocked()
	}
}

// applyFrom aplica ev si gen sigue vigente. Devuelve false cuando el pump debe parar.
func (s *Session) applyFrom(gen uint64, ev stream.Event) bool {
	s.mu.Lock()
	if gen != s.gen || s.phase != PhaseStreaming {
		s.mu.Unlock()
		return false
	}
	s.applyLocked(ev)
	s.publishLocked()
	s.mu.Unlock()

	if ev.Kind == stream.KindDone {
		s.completed()
	}
	return !ev.Terminal()
}

func (s *Session) applyLocked(ev stream.Event) {
	switch ev.Kind {
	case stream.KindSenderStart:
		if s.continuesLocked(ev) {
			if s.active.SenderName == "" {
				s.active.SenderName = s.senderName(ev.SenderID, ev.SenderName)
			}
			return
		}
		s.finalizeLocked()
		kind := ev.SenderKind
		if kind == "" {
			kind = domain.SenderKindAgent
		}
		s.open(ev.SenderID, s.senderName(ev.SenderID, ev.SenderName), kind)

	case stream.KindDelta:
		if s.active == nil {
			s.warn(ConsistencyWarning{ChatID: s.chat.ID, SenderID: ev.SenderID, Reason: "delta without active sender"})
			s.open(ev.SenderID, s.senderName(ev.SenderID, ""), domain.SenderKindAgent)
		} else if ev.SenderID != "" && ev.SenderID != s.active.SenderID {
			s.warn(ConsistencyWarning{ChatID: s.chat.ID, SenderID: ev.SenderID, Reason: "delta for inactive sender " + s.active.SenderID})
		}
		s.buf.WriteString(ev.Text)

	case stream.KindError:
		s.discardLocked()
		s.closeStreamLocked()
		s.err = ev.Err
		if s.err == nil {
			s.err = &stream.ServerError{Message: ev.Message}
		}
		s.phase = PhaseError
		s.recorder.TurnFinished(OutcomeError)

	case stream.KindDone:
		s.finalizeLocked()
		s.closeStreamLocked()
		s.phase = PhaseComplete
		s.recorder.TurnFinished(OutcomeComplete)
	}
}

// continuesLocked indica si ev re-anuncia al sender activo dentro del mismo
// mensaje. En chats de reflexion los agentes se turnan en rondas sobre un solo
// stream, asi que cada anuncio es un turno nuevo.
func (s *Session) continuesLocked(ev stream.Event) bool {
	if s.active == nil || s.active.SenderID != ev.SenderID {
		return false
	}
	return !ev.NewTurn && s.chat.Type != domain.ChatTypeReflection
}

func (s *Session) open(senderID, senderName string, kind domain.SenderKind) {
	s.active = &domain.Message{
		ChatID:     s.chat.ID,
		SenderID:   senderID,
		SenderName: senderName,
		SenderKind: kind,
	}
	s.buf.Reset()
}

func (s *Session) senderName(senderID, announced string) string {
	if announced != "" {
		return announced
	}
	if a, ok := s.chat.AgentByID(senderID); ok {
		return a.Name
	}
	return ""
}

// finalizeLocked convierte el mensaje en progreso en un Message completo.
func (s *Session) finalizeLocked() {
	if s.active == nil {
		return
	}
	msg := *s.active
	msg.ID = s.newID()
	msg.Content = s.buf.String()
	msg.CreatedAt = s.now()
	s.messages = append(s.messages, msg)
	s.active = nil
	s.buf.Reset()
}

func (s *Session) discardLocked() {
	s.active = nil
	s.buf.Reset()
}

func (s *Session) closeStreamLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
}

func (s *Session) warn(w ConsistencyWarning) {
	s.warnings++
	s.recorder.ConsistencyWarning()
	s.logger.Warn("stream consistency warning",
		zap.String("chat_id", w.ChatID),
		zap.String("sender_id", w.SenderID),
		zap.String("reason", w.Reason),
	)
}

func (s *Session) completed() {
	if s.onComplete != nil {
		s.onComplete()
	}
}

func (s *Session) publishLocked() {
	if s.notify != nil {
		s.notify(s.snapshotLocked())
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ChatID:   s.chat.ID,
		ChatName: s.chat.ChatName,
		Phase:    s.phase,
		Messages: slices.Clip(s.messages),
		Agents:   slices.Clip(s.chat.Agents),
		Err:      s.err,
		Warnings: s.warnings,
	}
	if s.active != nil {
		inProgress := *s.active
		inProgress.Content = s.buf.String()
		snap.InProgress = &inProgress
		snap.ActiveSenderID = inProgress.SenderID
	}
	return snap
}
