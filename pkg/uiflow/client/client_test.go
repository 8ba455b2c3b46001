package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"go.uber.org/zap/zaptest"
)

func TestClientBuilder(t *testing.T) {
	t.Run("fluent methods return the builder", func(t *testing.T) {
		builder := NewClient[testState, testDelta, testEvent, testAction]()

		assert.Same(t, builder, builder.WithURL("ws://localhost:8080/ws/room1"))
		assert.Same(t, builder, builder.WithLogger(zaptest.NewLogger(t)))
		assert.Same(t, builder, builder.WithDialTimeout(5*time.Second))
		assert.Same(t, builder, builder.WithWriteTimeout(time.Second))
		assert.Same(t, builder, builder.WithReconnect(fastReconnect()))
		assert.Same(t, builder, builder.WithMaxAttempts(3))
		assert.Same(t, builder, builder.WithPingInterval(0))
		assert.Same(t, builder, builder.WithAuthorization("Bearer abc"))
		assert.Same(t, builder, builder.WithHeader("X-Test", "1"))
		assert.Same(t, builder, builder.OnSnapshot(func(protocol.Snapshot[testState]) {}))
	})

	t.Run("defaults", func(t *testing.T) {
		builder := NewClient[testState, testDelta, testEvent, testAction]()

		assert.NotNil(t, builder.logger)
		assert.Equal(t, DefaultDialTimeout, builder.dialTimeout)
		assert.Equal(t, DefaultWriteTimeout, builder.writeTimeout)
		assert.Equal(t, DefaultReconnectConfig(), builder.reconnect)
		assert.IsType(t, WebSocketDialer{}, builder.dialer)
	})

	t.Run("reconnect without a cap uses the default cap", func(t *testing.T) {
		builder := NewClient[testState, testDelta, testEvent, testAction]().
			WithReconnect(ReconnectConfig{BaseDelay: time.Second})

		assert.Equal(t, DefaultMaxDelay, builder.reconnect.MaxDelay)
		assert.Equal(t, DefaultMaxDelay, builder.reconnect.Delay(100))
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		builder := NewClient[testState, testDelta, testEvent, testAction]().
			WithLogger(nil).
			WithDialTimeout(-1).
			WithDialer(nil)

		assert.NotNil(t, builder.logger)
		assert.NotNil(t, builder.dialer)
		assert.Equal(t, DefaultDialTimeout, builder.dialTimeout)
	})

	t.Run("missing URL fails", func(t *testing.T) {
		_, err := NewClient[testState, testDelta, testEvent, testAction]().Build()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "URL is required")

		_, err = NewClient[testState, testDelta, testEvent, testAction]().BuildPoller()
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("with user adds query parameters", func(t *testing.T) {
		builder := NewClient[testState, testDelta, testEvent, testAction]().
			WithURL("ws://localhost/ws/r1").
			WithUser("u1", "Ada Lovelace")

		assert.Equal(t, "ws://localhost/ws/r1?user_id=u1&user_name=Ada+Lovelace", builder.url)
	})

	t.Run("headers are copied", func(t *testing.T) {
		src := map[string][]string{"X-Custom": {"a"}}
		builder := NewClient[testState, testDelta, testEvent, testAction]().WithHeaders(src)
		src["X-Custom"][0] = "changed"

		assert.Equal(t, []string{"a"}, builder.headers["X-Custom"])
	})
}

func TestConnectConfigurationErrors(t *testing.T) {
	for _, url := range []string{"ftp://example.com", "ws://", "::bad"} {
		c, err := NewClient[testState, testDelta, testEvent, testAction]().
			WithURL(url).
			WithDialer(&fakeDialer{}).
			Build()
		require.NoError(t, err)

		err = c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrConfiguration, url)
		assert.Equal(t, Disconnected, c.Status())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(&fakeDialer{}).
		Build()
	require.NoError(t, err)

	_, err = c.Send(testAction{Type: "increment"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.SendPing(), ErrNotConnected)
	assert.ErrorIs(t, c.Resync(), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("game/#"), ErrNotConnected)
	assert.True(t, IsNotConnected(c.SendSignal("u2", protocol.Offer("v=0"))))

	assert.NoError(t, c.Disconnect())
}

func TestConnectDialFailure(t *testing.T) {
	dialer := &fakeDialer{failures: map[int]error{0: errors.New("connection refused")}}
	rec := &statusRecorder{}

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithLogger(zaptest.NewLogger(t)).
		WithDialer(dialer).
		OnStatus(rec.record).
		Build()
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
	assert.Equal(t, []Status{Connecting, Disconnected}, rec.all())

	// A failed client can be connected again.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.Status())
	require.NoError(t, c.Disconnect())
}

func TestConnectSendsAuthorization(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		WithHeader("X-Room-Token", "t1").
		WithAuthorizationProvider(func(ctx context.Context) (string, error) {
			return "Bearer xyz", nil
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.Len(t, dialer.headers, 1)
	assert.Equal(t, "Bearer xyz", dialer.headers[0].Get("Authorization"))
	assert.Equal(t, "t1", dialer.headers[0].Get("X-Room-Token"))
}

func TestClientDispatch(t *testing.T) {
	dialer := &fakeDialer{}

	var mu sync.Mutex
	var snapshots []protocol.Snapshot[testState]
	var deltas []protocol.Delta[testDelta]
	var notifies []protocol.Notify[testEvent]
	var acks []protocol.ActionOk
	pongs := make(chan protocol.Pong, 1)

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithLogger(zaptest.NewLogger(t)).
		WithDialer(dialer).
		WithReconnect(fastReconnect()).
		OnSnapshot(func(m protocol.Snapshot[testState]) {
			mu.Lock()
			defer mu.Unlock()
			snapshots = append(snapshots, m)
		}).
		OnDelta(func(m protocol.Delta[testDelta]) {
			mu.Lock()
			defer mu.Unlock()
			deltas = append(deltas, m)
		}).
		OnNotify(func(m protocol.Notify[testEvent]) {
			mu.Lock()
			defer mu.Unlock()
			notifies = append(notifies, m)
		}).
		OnActionOk(func(m protocol.ActionOk) {
			mu.Lock()
			defer mu.Unlock()
			acks = append(acks, m)
		}).
		OnPong(func(m protocol.Pong) { pongs <- m }).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	sock := dialer.socket(0)
	sock.push(t, protocol.Connected{ProtocolVersion: protocol.ProtocolVersion, ConnectionID: "conn-1"})
	sock.push(t, protocol.Snapshot[testState]{State: testState{Count: 5}, Seq: 10})
	sock.push(t, protocol.Delta[testDelta]{Delta: testDelta{Add: 1}, Seq: 11})
	// Batches are unpacked for handlers that only take single deltas.
	sock.push(t, protocol.Deltas[testDelta]{Deltas: []testDelta{{Add: 2}, {Add: 3}}, Seq: 13})
	sock.push(t, protocol.Notify[testEvent]{Domain: "chat", Event: testEvent{Text: "hi"}})
	sock.push(t, protocol.ActionOk{OpID: 7})
	sock.push(t, protocol.ActionOk{OpID: 7})
	sock.push(t, protocol.Pong{ClientTs: 1, ServerTs: 2})

	select {
	case <-pongs:
	case <-time.After(waitFor):
		t.Fatal("pong not delivered")
	}

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "conn-1", c.ConnectionID())
	require.Len(t, snapshots, 1)
	assert.Equal(t, 5, snapshots[0].State.Count)
	require.Len(t, deltas, 3)
	assert.Equal(t, []uint64{11, 12, 13}, []uint64{deltas[0].Seq, deltas[1].Seq, deltas[2].Seq})
	assert.Equal(t, 3, deltas[2].Delta.Add)
	require.Len(t, notifies, 1)
	assert.Equal(t, "hi", notifies[0].Event.Text)
	assert.Len(t, acks, 1, "duplicate ActionOk should be dropped")

	seq, ok := c.CurrentSeq()
	assert.True(t, ok)
	assert.Equal(t, uint64(13), seq)
}

func TestSequenceGapRequestsResync(t *testing.T) {
	dialer := &fakeDialer{}

	var mu sync.Mutex
	var applied []uint64

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithLogger(zaptest.NewLogger(t)).
		WithDialer(dialer).
		OnSnapshot(func(m protocol.Snapshot[testState]) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, m.Seq)
		}).
		OnDelta(func(m protocol.Delta[testDelta]) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, m.Seq)
		}).
		OnDeltas(func(m protocol.Deltas[testDelta]) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, m.Seq)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	sock := dialer.socket(0)
	sock.push(t, protocol.Snapshot[testState]{Seq: 3})
	// Gap: 4 is missing. Only the first gap asks for a resync.
	sock.push(t, protocol.Delta[testDelta]{Seq: 5})
	sock.push(t, protocol.Delta[testDelta]{Seq: 6})
	sock.push(t, protocol.Deltas[testDelta]{Deltas: []testDelta{{}, {}}, Seq: 6})
	// Stale.
	sock.push(t, protocol.Delta[testDelta]{Seq: 3})
	// The resync answer, then a batch based on it.
	sock.push(t, protocol.Snapshot[testState]{Seq: 6})
	sock.push(t, protocol.Deltas[testDelta]{Deltas: []testDelta{{}, {}}, Seq: 8})

	require.Eventually(t, func() bool {
		seq, _ := c.CurrentSeq()
		return seq == 8
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, []uint64{3, 6, 8}, applied)
	mu.Unlock()

	var resyncs []protocol.Resync
	for _, msg := range sock.sent(t) {
		if r, ok := msg.(protocol.Resync); ok {
			resyncs = append(resyncs, r)
		}
	}
	require.Len(t, resyncs, 1)
	require.NotNil(t, resyncs[0].LastSeq)
	assert.Equal(t, uint64(3), *resyncs[0].LastSeq)
}

func TestDeltaBeforeSnapshotRequestsResync(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	sock := dialer.socket(0)
	sock.push(t, protocol.Delta[testDelta]{Seq: 1})

	require.Eventually(t, func() bool {
		return len(sock.sent(t)) == 1
	}, waitFor, tick)

	r, ok := sock.sent(t)[0].(protocol.Resync)
	require.True(t, ok)
	assert.Nil(t, r.LastSeq)
	_, hasSeq := c.CurrentSeq()
	assert.False(t, hasSeq)
}

func TestOutboundMessages(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	op, err := c.Send(testAction{Type: "increment"})
	require.NoError(t, err)
	require.NoError(t, c.SendAction(protocol.OpIDFromRaw(900), testAction{Type: "decrement"}))
	require.NoError(t, c.Subscribe("game/#", "chat"))
	require.NoError(t, c.Unsubscribe("chat"))
	require.NoError(t, c.SendSignal("u2", protocol.Answer("v=0")))
	require.NoError(t, c.Resync())
	assert.NoError(t, c.Subscribe())

	sent := dialer.socket(0).sent(t)
	require.Len(t, sent, 6)
	assert.Equal(t, protocol.Action[testAction]{OpID: op, Action: testAction{Type: "increment"}}, sent[0])
	assert.Equal(t, protocol.OpID(900), sent[1].(protocol.Action[testAction]).OpID)
	assert.Equal(t, protocol.Subscribe{Domains: []string{"game/#", "chat"}}, sent[2])
	assert.Equal(t, protocol.Unsubscribe{Domains: []string{"chat"}}, sent[3])
	assert.Equal(t, "u2", sent[4].(protocol.SignalTo).TargetUserID)
	assert.Nil(t, sent[5].(protocol.Resync).LastSeq)
}

func TestKeepalive(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		WithPingInterval(5 * time.Millisecond).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.Eventually(t, func() bool {
		for _, msg := range dialer.socket(0).sent(t) {
			if _, ok := msg.(protocol.Ping); ok {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	dialer := &fakeDialer{failures: map[int]error{1: errors.New("still down")}}
	rec := &statusRecorder{}

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithLogger(zaptest.NewLogger(t)).
		WithDialer(dialer).
		WithReconnect(fastReconnect()).
		OnStatus(rec.record).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	first := dialer.socket(0)
	require.NoError(t, c.Subscribe("game/#"))
	first.serverClose(websocket.StatusInternalError)

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 3 && rec.last() == Connected
	}, waitFor, tick)

	assert.Equal(t, []Status{
		Connecting, Connected,
		Reconnecting(1), Connecting,
		Reconnecting(2), Connecting,
		Connected,
	}, rec.all())

	// Subscriptions are restored on the new socket.
	second := dialer.socket(1)
	require.Eventually(t, func() bool {
		return len(second.sent(t)) > 0
	}, waitFor, tick)
	assert.Equal(t, protocol.Subscribe{Domains: []string{"game/#"}}, second.sent(t)[0])

	// The attempt counter resets after a successful reconnect.
	second.serverClose(websocket.StatusGoingAway)
	require.Eventually(t, func() bool {
		return dialer.dialCount() == 4 && rec.last() == Connected
	}, waitFor, tick)

	all := rec.all()
	assert.Equal(t, Reconnecting(1), all[len(all)-3])
}

func TestAuthFailureIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &statusRecorder{}

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		WithReconnect(fastReconnect()).
		OnStatus(rec.record).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	dialer.socket(0).serverClose(4003)

	require.Eventually(t, func() bool {
		return rec.last() == AuthFailed
	}, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.True(t, c.Status().IsDisconnected())
	assert.Equal(t, "Authentication failed", rec.last().Description())
}

func TestAuthRejectedAtHandshake(t *testing.T) {
	dialer := &fakeDialer{failures: map[int]error{0: &AuthError{Code: 4001, HTTPStatus: 401}}}
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		Build()
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, AuthFailed, c.Status())
}

func TestMaxAttemptsExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &statusRecorder{}

	cfg := fastReconnect()
	cfg.MaxAttempts = 2

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		WithReconnect(cfg).
		OnStatus(rec.record).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	dialer.setFailRest(errors.New("down"))
	dialer.socket(0).serverClose(websocket.StatusAbnormalClosure)

	require.Eventually(t, func() bool {
		return rec.last() == Disconnected
	}, waitFor, tick)

	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, []Status{
		Connecting, Connected,
		Reconnecting(1), Connecting,
		Reconnecting(2), Connecting,
		Disconnected,
	}, rec.all())

	_, err = c.Send(testAction{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &statusRecorder{}

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		WithReconnect(fastReconnect()).
		OnStatus(rec.record).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyStarted)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	sock := dialer.socket(0)
	assert.True(t, sock.isClosed())
	assert.Equal(t, websocket.StatusNormalClosure, sock.closeCode)
	assert.Equal(t, Disconnected, c.Status())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount(), "no reconnect after explicit disconnect")
	assert.Equal(t, []Status{Connecting, Connected, Disconnected}, rec.all())
}

func TestDisconnectFromHandler(t *testing.T) {
	dialer := &fakeDialer{}
	done := make(chan struct{})

	var c *Client[testState, testDelta, testEvent, testAction]
	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		OnError(func(m protocol.Error) {
			if m.Fatal {
				_ = c.Disconnect()
				close(done)
			}
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	dialer.socket(0).push(t, protocol.Error{Message: "room closed", Fatal: true})

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("handler did not run")
	}
	assert.Equal(t, Disconnected, c.Status())
}

func TestDecodeErrorsAreReported(t *testing.T) {
	dialer := &fakeDialer{}
	errs := make(chan error, 1)

	c, err := NewClient[testState, testDelta, testEvent, testAction]().
		WithURL("ws://localhost/ws/r1").
		WithDialer(dialer).
		OnDecodeError(func(err error) { errs <- err }).
		Build()
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	dialer.socket(0).in <- []byte{0xc1}

	select {
	case err := <-errs:
		assert.True(t, protocol.IsMalformed(err))
	case <-time.After(waitFor):
		t.Fatal("decode error not reported")
	}
	assert.Equal(t, Connected, c.Status())
}
