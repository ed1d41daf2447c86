// Package stream traduce el stream SSE del backend en eventos de chat tipados.
package stream

import (
	"fmt"

	"trio-stream/internal/domain"
)

// Kind discrimina los eventos que produce el decoder.
type Kind int

const (
	KindDelta Kind = iota + 1
	KindSenderStart
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindSenderStart:
		return "senderStart"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event es una unidad logica del stream.
type Event struct {
	Kind       Kind
	SenderID   string
	SenderName string
	SenderKind domain.SenderKind
	// NewTurn marca un senderStart que siempre abre un mensaje nuevo, aunque
	// repita el sender activo. Lo usan los frames legados: un frame, un turno.
	NewTurn bool
	Text    string
	// Message y Err solo se completan en eventos KindError.
	Message string
	Err     error
}

// Terminal indica si el evento cierra la secuencia.
func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindDone
}

func SenderStart(senderID, senderName string) Event {
	return Event{Kind: KindSenderStart, SenderID: senderID, SenderName: senderName, SenderKind: domain.SenderKindAgent}
}

func Delta(senderID, text string) Event {
	return Event{Kind: KindDelta, SenderID: senderID, Text: text}
}

func Done() Event {
	return Event{Kind: KindDone}
}

// Failure construye un evento de error a partir de err.
func Failure(err error) Event {
	return Event{Kind: KindError, Message: err.Error(), Err: err}
}

// ParseError indica un payload malformado en el stream.
type ParseError struct {
	Event string
	Data  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s event: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("parse %s event: malformed payload", e.Event)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ServerError es un error enviado explicitamente por el backend dentro del stream.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}
