package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
)

type testState struct {
	Count int `msgpack:"count"`
}

type testDelta struct {
	Add int `msgpack:"add"`
}

type testEvent struct {
	Text string `msgpack:"text"`
}

type testAction struct {
	Type string `msgpack:"type"`
}

// fakeSocket is an in-memory Socket driven by the test as the server side.
type fakeSocket struct {
	in       chan []byte
	closed   chan struct{}
	once     sync.Once
	closeErr error

	mu        sync.Mutex
	written   [][]byte
	closeCode websocket.StatusCode
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		return nil, s.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(ctx context.Context, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("socket closed")
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.mu.Unlock()
		s.closeErr = websocket.CloseError{Code: code, Reason: reason}
		close(s.closed)
	})
	return nil
}

// serverClose simulates the server closing the connection with code.
func (s *fakeSocket) serverClose(code websocket.StatusCode) {
	_ = s.Close(code, "server close")
}

// push encodes msg and queues it for the client to read.
func (s *fakeSocket) push(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	s.in <- data
}

// sent decodes every frame the client has written.
func (s *fakeSocket) sent(t *testing.T) []protocol.ClientMessage[testAction] {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]protocol.ClientMessage[testAction], 0, len(s.written))
	for _, data := range s.written {
		msg, err := protocol.DecodeClient[testAction](data)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fake sockets. Entries in failures make the dial with
// the same index fail.
type fakeDialer struct {
	mu       sync.Mutex
	sockets  []*fakeSocket
	failures map[int]error
	failRest error
	dials    int
	headers  []http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.dials
	d.dials++
	d.headers = append(d.headers, header)

	if err, ok := d.failures[i]; ok {
		return nil, err
	}
	if d.failRest != nil && i > 0 {
		return nil, d.failRest
	}

	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sockets) {
		return nil
	}
	return d.sockets[i]
}

func (d *fakeDialer) setFailRest(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRest = err
}

// statusRecorder collects status changes from a handler.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *statusRecorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Disconnected
	}
	return r.statuses[len(r.statuses)-1]
}

func fastReconnect() ReconnectConfig {
	return ReconnectConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)
