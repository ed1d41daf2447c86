package stream

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trio-stream/internal/transport"
)

type fakeSource struct {
	chunks []string
	err    error
	reads  int
	closed int
}

func (f *fakeSource) Next() ([]byte, error) {
	if f.reads < len(f.chunks) {
		c := f.chunks[f.reads]
		f.reads++
		return []byte(c), nil
	}
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return nil, io.EOF
}

func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

func collect(s *Stream) []Event {
	var out []Event
	for ev := range s.All() {
		out = append(out, ev)
	}
	return out
}

func TestStream_EndsOnDoneAndClosesSource(t *testing.T) {
	src := &fakeSource{chunks: []string{
		"event:sender_start\ndata:{\"senderId\":\"a1\"}\n\nevent:del",
		"ta\ndata:{\"senderId\":\"a1\",\"text\":\"hi\"}\n\nevent:done\ndata:{}\n\n",
		"event:delta\ndata:{\"senderId\":\"a1\",\"text\":\"ignored\"}\n\n",
	}}
	s := NewStream(src)

	events := collect(s)
	require.Len(t, events, 3)
	assert.Equal(t, KindDone, events[2].Kind)
	assert.Equal(t, 2, src.reads)
	assert.Equal(t, 1, src.closed)

	_, ok := s.Next()
	assert.False(t, ok, "stream must not restart")
}

func TestStream_NaturalEOFYieldsDone(t *testing.T) {
	src := &fakeSource{chunks: []string{"event:message\ndata:{\"agentId\":1,\"agentName\":\"A\",\"content\":\"x\"}\n\n"}}
	events := collect(NewStream(src))

	require.Len(t, events, 3)
	assert.Equal(t, KindSenderStart, events[0].Kind)
	assert.Equal(t, KindDelta, events[1].Kind)
	assert.Equal(t, KindDone, events[2].Kind)
}

func TestStream_TransportFailureIsTerminalError(t *testing.T) {
	terr := &transport.TransportError{Op: "read stream", Err: errors.New("connection reset")}
	src := &fakeSource{
		chunks: []string{"event:sender_start\ndata:{\"senderId\":\"a1\"}\n\n"},
		err:    terr,
	}
	events := collect(NewStream(src))

	require.Len(t, events, 2)
	assert.Equal(t, KindError, events[1].Kind)
	var got *transport.TransportError
	assert.ErrorAs(t, events[1].Err, &got)
	assert.Equal(t, 1, src.closed)
}

func TestStream_CancellationEndsSilently(t *testing.T) {
	src := &fakeSource{
		chunks: []string{"event:sender_start\ndata:{\"senderId\":\"a1\"}\n\n"},
		err:    transport.ErrCanceled,
	}
	events := collect(NewStream(src))

	require.Len(t, events, 1)
	assert.Equal(t, KindSenderStart, events[0].Kind)
}

func TestStream_BreakingOutOfRangeCloses(t *testing.T) {
	src := &fakeSource{chunks: []string{turnFixture}}
	s := NewStream(src)
	for range s.All() {
		break
	}
	assert.Equal(t, 1, src.closed)
	_, ok := s.Next()
	assert.False(t, ok)
}
