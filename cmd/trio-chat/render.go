package main

import (
	"fmt"
	"io"
	"sync"

	"trio-stream/internal/domain"
	"trio-stream/internal/session"
)

// renderer imprime los snapshots de forma incremental: los mensajes nuevos una
// sola vez y el mensaje en progreso a medida que crece.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
	partial string
	written int
	phase   session.Phase
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, phase: session.PhaseIdle}
}

func (r *renderer) render(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := r.printed; i < len(s.Messages); i++ {
		m := s.Messages[i]
		if r.partial != "" && m.SenderID == r.partial && r.written <= len(m.Content) {
			fmt.Fprintln(r.out, m.Content[r.written:])
			r.partial, r.written = "", 0
			continue
		}
		r.breakPartial()
		fmt.Fprintf(r.out, "%s > %s\n", label(m), m.Content)
	}
	r.printed = len(s.Messages)

	if p := s.InProgress; p != nil {
		if r.partial != p.SenderID {
			r.breakPartial()
			fmt.Fprintf(r.out, "%s > ", label(*p))
			r.partial = p.SenderID
		}
		if r.written <= len(p.Content) {
			fmt.Fprint(r.out, p.Content[r.written:])
			r.written = len(p.Content)
		}
	}

	if s.Phase != r.phase {
		r.transition(s)
	}
	r.phase = s.Phase
}

func (r *renderer) transition(s session.Snapshot) {
	switch s.Phase {
	case session.PhaseError:
		if r.partial != "" {
			fmt.Fprintln(r.out, " [descartado]")
			r.partial, r.written = "", 0
		}
		fmt.Fprintf(r.out, "[error] %s\n", s.ErrorMessage())
	case session.PhaseIdle:
		if r.partial != "" {
			fmt.Fprintln(r.out, " [cancelado]")
			r.partial, r.written = "", 0
		}
	}
}

// breakPartial cierra la linea de un parcial que no llego a completarse.
func (r *renderer) breakPartial() {
	if r.partial != "" {
		fmt.Fprintln(r.out)
		r.partial, r.written = "", 0
	}
}

func label(m domain.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.SenderKind == domain.SenderKindUser {
		return "Tu"
	}
	return m.SenderID
}
