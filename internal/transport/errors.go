package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput se devuelve sin tocar la red cuando chatID o el contenido estan vacios.
	ErrInvalidInput = errors.New("invalid stream input")
	// ErrCanceled indica que el stream lo cerro quien lo abrio.
	ErrCanceled = errors.New("stream canceled")
	// ErrConnectTimeout indica que el backend no respondio a tiempo al abrir el stream.
	ErrConnectTimeout = errors.New("stream connect timeout")
)

// TransportError cubre fallas de conexion y respuestas HTTP no exitosas,
// incluida la falta de autorizacion.
type TransportError struct {
	Op           string
	StatusCode   int
	Unauthorized bool
	Message      string
	Err          error
}

func (e *TransportError) Error() string {
	msg := "transport: " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthorized indica si err es un TransportError por falta de credenciales validas.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Unauthorized
}
