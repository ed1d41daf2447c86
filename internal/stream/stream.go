package stream

import (
	"context"
	"errors"
	"io"
	"iter"

	"trio-stream/internal/transport"
)

// ChunkSource entrega chunks crudos en orden de llegada. *transport.Handle la implementa.
type ChunkSource interface {
	Next() ([]byte, error)
	Close() error
}

// Stream es la secuencia perezosa, finita y no reiniciable de eventos de un turno.
// Termina despues de done o error; una cancelacion la termina sin evento.
type Stream struct {
	src      ChunkSource
	dec      *Decoder
	queue    []Event
	eof      bool
	finished bool
}

func NewStream(src ChunkSource) *Stream {
	return &Stream{src: src, dec: NewDecoder()}
}

// Next bloquea hasta el proximo evento. Devuelve false cuando la secuencia terminó.
func (s *Stream) Next() (Event, bool) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if ev.Terminal() {
				s.finish()
			}
			return ev, true
		}
		if s.finished || s.eof {
			s.finish()
			return Event{}, false
		}

		chunk, err := s.src.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.eof = true
				s.queue = append(s.queue, s.dec.Finish()...)
			case errors.Is(err, transport.ErrCanceled), errors.Is(err, context.Canceled):
				s.finish()
				return Event{}, false
			default:
				s.eof = true
				s.queue = append(s.queue, Failure(err))
			}
			continue
		}
		s.queue = append(s.queue, s.dec.Feed(chunk)...)
	}
}

// All adapta el stream a un iter.Seq. Se puede recorrer una sola vez.
func (s *Stream) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := s.Next()
			if !ok {
				return
			}
			if !yield(ev) {
				s.Close()
				return
			}
		}
	}
}

// Close libera la fuente. Es seguro llamarlo mas de una vez.
func (s *Stream) Close() error {
	s.finished = true
	s.queue = nil
	return s.src.Close()
}

func (s *Stream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.queue = nil
	s.src.Close()
}
