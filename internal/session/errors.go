package session

import (
	"errors"
	"fmt"
)

// ErrNoSession indica que nadie esta observando el chat.
var ErrNoSession = errors.New("no session for chat")

// ErrSessionClosed se devuelve al operar sobre una sesion ya destruida.
var ErrSessionClosed = errors.New("session closed")

var (
	ErrNotStreaming  = errors.New("session not streaming")
	ErrInvalidChatID = errors.New("invalid chat id")
)

// BusyError rechaza un envio mientras hay un stream abierto. No cambia el estado.
type BusyError struct {
	ChatID string
	Phase  Phase
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("session busy: chat %s is %s", e.ChatID, e.Phase)
}

// IsBusy indica si err es un BusyError.
func IsBusy(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}

// ConsistencyWarning describe una anomalia no fatal del stream. Solo se loguea.
type ConsistencyWarning struct {
	ChatID   string
	SenderID string
	Reason   string
}

func (w ConsistencyWarning) Error() string {
	return fmt.Sprintf("consistency warning: chat %s sender %q: %s", w.ChatID, w.SenderID, w.Reason)
}
