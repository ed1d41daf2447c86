package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

const chunkSize = 4 << 10

// Handle expone el body de un stream abierto como una secuencia de chunks crudos.
type Handle struct {
	ctx     context.Context
	body    io.ReadCloser
	cancel  context.CancelFunc
	buf     []byte
	pending error

	closed    atomic.Bool
	closeOnce sync.Once
}

func newHandle(ctx context.Context, body io.ReadCloser, cancel context.CancelFunc) *Handle {
	return &Handle{
		ctx:    ctx,
		body:   body,
		cancel: cancel,
		buf:    make([]byte, chunkSize),
	}
}

// Next devuelve el siguiente chunk en orden de llegada. Termina con io.EOF en
// el cierre natural, ErrCanceled si el stream se cancelo, o un *TransportError
// si la conexion fallo a mitad de camino. No es seguro para uso concurrente.
func (h *Handle) Next() ([]byte, error) {
	for {
		if h.pending != nil {
			return nil, h.classify(h.pending)
		}
		if h.closed.Load() {
			return nil, ErrCanceled
		}
		n, err := h.body.Read(h.buf)
		if err != nil {
			h.pending = err
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, h.buf[:n])
			return chunk, nil
		}
	}
}

// Close cierra la conexion. Es idempotente y seguro desde otra goroutine.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.cancel()
		err = h.body.Close()
	})
	return err
}

func (h *Handle) classify(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case h.closed.Load(), h.ctx.Err() != nil, errors.Is(err, context.Canceled):
		return ErrCanceled
	}
	return &TransportError{Op: "read stream", Err: err}
}
