package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"trio-stream/internal/domain"
)

// Nombres de evento SSE que emite el backend.
const (
	EventSenderStart = "sender_start"
	EventDelta       = "delta"
	EventError       = "error"
	EventDone        = "done"
	// EventMessage es el frame legado: un turno completo de agente por evento.
	EventMessage = "message"
)

// MaxFrameSize acota lo que el decoder acepta bufferear para un solo frame.
const MaxFrameSize = 1 << 20

var errFrameTooLarge = errors.New("frame exceeds max size")

type frame struct {
	event   string
	data    strings.Builder
	hasData bool
}

func (f *frame) reset() {
	f.event = ""
	f.data.Reset()
	f.hasData = false
}

// Decoder parsea SSE (`event:`/`data:` separados por linea en blanco) de forma
// incremental. Un frame partido entre dos chunks se bufferea hasta completarse.
// Las lineas terminan en \n, \r\n o \r. Despues de emitir un evento terminal
// ignora el resto de la entrada.
type Decoder struct {
	buf []byte
	// scanned es el prefijo de buf ya revisado sin encontrar fin de linea.
	scanned int
	// skipLF indica que la ultima linea termino en \r y un \n inmediato es parte
	// del mismo fin de linea.
	skipLF   bool
	cur      frame
	finished bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consume un chunk crudo y devuelve los eventos completos que contenia.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.finished {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	rest := d.buf
	for !d.finished {
		if d.skipLF && len(rest) > 0 {
			d.skipLF = false
			if rest[0] == '\n' {
				rest = rest[1:]
			}
		}
		i := bytes.IndexAny(rest[d.scanned:], "\r\n")
		if i < 0 {
			d.scanned = len(rest)
			break
		}
		i += d.scanned
		d.scanned = 0
		line := rest[:i]
		d.skipLF = rest[i] == '\r'
		rest = rest[i+1:]
		events = d.line(line, events)
	}
	if d.finished {
		d.buf = nil
		return events
	}
	if len(rest) < len(d.buf) {
		d.buf = append(d.buf[:0], rest...)
	}

	if len(d.buf)+d.cur.data.Len() > MaxFrameSize {
		events = d.fail(events, &ParseError{Event: d.frameName(), Err: errFrameTooLarge})
	}
	return events
}

// Finish se llama al cerrarse el stream de forma natural. Procesa lo que quede
// en el buffer y, si el backend no mando un evento terminal, agrega done.
func (d *Decoder) Finish() []Event {
	if d.finished {
		return nil
	}
	var events []Event
	if len(d.buf) > 0 {
		line := d.buf
		d.buf = nil
		d.scanned = 0
		events = d.line(line, events)
	}
	if !d.finished {
		events = d.dispatch(events)
	}
	if !d.finished {
		d.finished = true
		events = append(events, Done())
	}
	return events
}

func (d *Decoder) line(line []byte, events []Event) []Event {
	if len(line) == 0 {
		return d.dispatch(events)
	}
	if line[0] == ':' {
		return events
	}

	field, value, found := bytes.Cut(line, []byte{':'})
	if found {
		value = bytes.TrimPrefix(value, []byte{' '})
	}
	switch string(field) {
	case "event":
		d.cur.event = string(value)
	case "data":
		if d.cur.hasData {
			d.cur.data.WriteByte('\n')
		}
		d.cur.data.Write(value)
		d.cur.hasData = true
	}
	return events
}

func (d *Decoder) frameName() string {
	if d.cur.event == "" {
		return EventMessage
	}
	return d.cur.event
}

func (d *Decoder) dispatch(events []Event) []Event {
	if !d.cur.hasData && d.cur.event == "" {
		return events
	}
	name := d.frameName()
	data := d.cur.data.String()
	d.cur.reset()

	decoded, err := decodeFrame(name, data)
	if err != nil {
		return d.fail(events, &ParseError{Event: name, Data: data, Err: err})
	}
	for _, ev := range decoded {
		events = append(events, ev)
		if ev.Terminal() {
			d.finished = true
			break
		}
	}
	return events
}

func (d *Decoder) fail(events []Event, err error) []Event {
	d.finished = true
	d.buf = nil
	d.scanned = 0
	d.cur.reset()
	return append(events, Failure(err))
}

type senderStartPayload struct {
	SenderID   string            `json:"senderId"`
	SenderName string            `json:"senderName"`
	SenderType domain.SenderKind `json:"senderType"`
}

type deltaPayload struct {
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type legacyMessagePayload struct {
	AgentID   json.RawMessage `json:"agentId"`
	AgentName string          `json:"agentName"`
	Content   string          `json:"content"`
}

var (
	errMissingSender = errors.New("missing senderId")
	errBadSenderType = errors.New("unknown senderType")
)

func decodeFrame(name, data string) ([]Event, error) {
	switch name {
	case EventSenderStart:
		var p senderStartPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.SenderID) == "" {
			return nil, errMissingSender
		}
		kind := p.SenderType
		if kind == "" {
			kind = domain.SenderKindAgent
		}
		if !kind.IsValid() {
			return nil, errBadSenderType
		}
		ev := SenderStart(p.SenderID, p.SenderName)
		ev.SenderKind = kind
		return []Event{ev}, nil

	case EventDelta:
		var p deltaPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		return []Event{Delta(p.SenderID, p.Text)}, nil

	case EventError:
		msg := strings.TrimSpace(data)
		var p errorPayload
		if err := json.Unmarshal([]byte(data), &p); err == nil {
			msg = p.Message
			if msg == "" {
				msg = p.Error
			}
		}
		if msg == "" {
			msg = "stream error"
		}
		return []Event{Failure(&ServerError{Message: msg})}, nil

	case EventDone:
		return []Event{Done()}, nil

	case EventMessage:
		var p legacyMessagePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		id := strings.Trim(string(p.AgentID), `"`)
		if id == "" || id == "null" {
			return nil, errMissingSender
		}
		start := SenderStart(id, p.AgentName)
		start.NewTurn = true
		return []Event{start, Delta(id, p.Content)}, nil
	}
	return nil, nil
}
