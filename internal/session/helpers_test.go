package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trio-stream/internal/domain"
	"trio-stream/internal/stream"
	"trio-stream/internal/transport"
)

const waitTimeout = 2 * time.Second

// chanSource es un ChunkSource alimentado por el test.
type chanSource struct {
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newChanSource() *chanSource {
	return &chanSource{chunks: make(chan []byte, 64), done: make(chan struct{})}
}

func (c *chanSource) Next() ([]byte, error) {
	select {
	case <-c.done:
		return nil, transport.ErrCanceled
	default:
	}
	select {
	case b, ok := <-c.chunks:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-c.done:
		return nil, transport.ErrCanceled
	}
}

func (c *chanSource) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *chanSource) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *chanSource) push(frames ...string) {
	for _, f := range frames {
		c.chunks <- []byte(f)
	}
}

func (c *chanSource) eof() {
	close(c.chunks)
}

func frame(event, data string) string {
	return "event:" + event + "\ndata:" + data + "\n\n"
}

func senderStartFrame(id, name string) string {
	return frame(stream.EventSenderStart, `{"senderId":"`+id+`","senderName":"`+name+`"}`)
}

func deltaFrame(id, text string) string {
	return frame(stream.EventDelta, `{"senderId":"`+id+`","text":"`+text+`"}`)
}

// legacyFrame es el frame message del backend original: un turno completo.
func legacyFrame(agentID, name, content string) string {
	return frame(stream.EventMessage, `{"agentId":`+agentID+`,"agentName":"`+name+`","content":"`+content+`"}`)
}

func doneFrame() string {
	return frame(stream.EventDone, `{}`)
}

// sourceOpener entrega las fuentes en orden, una por Open.
type sourceOpener struct {
	mu       sync.Mutex
	sources  []*chanSource
	contents []string
	err      error
}

func newSourceOpener(sources ...*chanSource) *sourceOpener {
	return &sourceOpener{sources: sources}
}

func (o *sourceOpener) Open(_ context.Context, _ string, content string) (stream.ChunkSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.contents = append(o.contents, content)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.sources) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	src := o.sources[0]
	o.sources = o.sources[1:]
	return src, nil
}

func (o *sourceOpener) sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.contents...)
}

// recorder guarda cada snapshot publicado.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, s := range r.all() {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func seedChat() domain.Chat {
	return domain.Chat{
		ID:       "chat-1",
		ChatName: "Trio",
		Type:     domain.ChatTypeDefault,
		Agents: []domain.Agent{
			{ID: "a1", Name: "Ana"},
			{ID: "a2", Name: "Bo"},
		},
		Messages: []domain.Message{
			{
				ID:         "m1",
				ChatID:     "chat-1",
				Content:    "hola",
				SenderID:   "u1",
				SenderName: "Lu",
				SenderKind: domain.SenderKindUser,
				CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
	}
}

func waitPhase(t *testing.T, s *Session, want Phase) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return s.Snapshot().Phase == want }, waitTimeout, time.Millisecond)
	return s.Snapshot()
}
