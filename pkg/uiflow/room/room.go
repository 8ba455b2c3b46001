// Package room hosts authoritative application state. Each room is a single
// goroutine that owns its state, serialises every action and broadcasts the
// resulting deltas in sequence order.
package room

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const DefaultMailboxSize = 64

type joinReply struct {
	id  string
	err error
}

type joinMail struct {
	peer  Peer
	user  User
	reply chan joinReply
}

type leaveMail struct {
	id string
}

type frameMail struct {
	id   string
	data []byte
}

type alarmMail struct {
	token uint64
}

type inspectMail struct {
	fn   func()
	done chan struct{}
}

type roomOptions struct {
	store       storage.Store
	logger      *zap.Logger
	metrics     *Metrics
	tracer      o11y.TracingProvider
	mailboxSize int
	now         func() time.Time
}

// Room is one running instance of an application.
type Room[S, V, D, E, A any] struct {
	name    string
	app     Application[S, V, D, E, A]
	cache   *kvCache
	logger  *zap.Logger
	metrics *Metrics
	tracer  o11y.TracingProvider
	now     func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	mailbox   chan any
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	connections  atomic.Int64
	lastActive   atomic.Int64
	alarmPending atomic.Bool

	// Everything below is owned by the room goroutine.
	loaded     bool
	state      S
	blob       []byte
	seq        uint64
	nextID     uint64
	members    map[string]*member
	order      []string
	alarm      *time.Timer
	alarmToken uint64
}

func newRoom[S, V, D, E, A any](name string, app Application[S, V, D, E, A], opts roomOptions) *Room[S, V, D, E, A] {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room[S, V, D, E, A]{
		name:    name,
		app:     app,
		cache:   newKVCache(opts.store, name),
		logger:  opts.logger.With(zap.String("room", name)),
		metrics: opts.metrics,
		tracer:  opts.tracer,
		now:     opts.now,
		ctx:     ctx,
		cancel:  cancel,
		mailbox: make(chan any, opts.mailboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		members: make(map[string]*member),
	}
	r.lastActive.Store(r.now().UnixNano())

	go r.loop()
	return r
}

// Name returns the room name.
func (r *Room[S, V, D, E, A]) Name() string { return r.name }

// ConnectionCount returns the number of live connections.
func (r *Room[S, V, D, E, A]) ConnectionCount() int { return int(r.connections.Load()) }

// LastActive returns when the room last had a connection leave, or when it was
// created.
func (r *Room[S, V, D, E, A]) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// Idle reports whether the room has no connections, no pending alarm and has
// been inactive since before cutoff.
func (r *Room[S, V, D, E, A]) Idle(cutoff time.Time) bool {
	return r.ConnectionCount() == 0 && !r.alarmPending.Load() && r.LastActive().Before(cutoff)
}

// Done is closed once the room goroutine has exited.
func (r *Room[S, V, D, E, A]) Done() <-chan struct{} { return r.stopped }

// Join registers peer as a new connection of user and returns its connection
// id. The peer receives Connected and a Snapshot before Join returns control
// to the room.
func (r *Room[S, V, D, E, A]) Join(ctx context.Context, peer Peer, user User) (string, error) {
	reply := make(chan joinReply, 1)
	if err := r.post(ctx, joinMail{peer: peer, user: user, reply: reply}); err != nil {
		return "", err
	}

	select {
	case res := <-reply:
		return res.id, res.err
	case <-r.stopped:
		return "", ErrRoomClosed
	case <-ctx.Done():
		// The room may still register the peer; undo it when it does.
		go func() {
			select {
			case res := <-reply:
				if res.err == nil {
					r.Leave(res.id)
				}
			case <-r.stopped:
			}
		}()
		return "", ctx.Err()
	}
}

// Leave removes a connection. It is a no-op for unknown ids or closed rooms.
func (r *Room[S, V, D, E, A]) Leave(connID string) {
	_ = r.post(context.Background(), leaveMail{id: connID})
}

// Deliver queues an inbound frame from a connection.
func (r *Room[S, V, D, E, A]) Deliver(ctx context.Context, connID string, data []byte) error {
	return r.post(ctx, frameMail{id: connID, data: data})
}

// View returns the current public view and sequence, loading the room if
// necessary.
func (r *Room[S, V, D, E, A]) View(ctx context.Context) (V, uint64, error) {
	var (
		view    V
		seq     uint64
		loadErr error
	)
	err := r.inspect(ctx, func() {
		if loadErr = r.load(); loadErr == nil {
			view = r.app.View(&r.state)
			seq = r.seq
		}
	})
	if err == nil {
		err = loadErr
	}
	return view, seq, err
}

// Close stops the room. Connected peers receive a fatal room_closed error.
func (r *Room[S, V, D, E, A]) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.done) })

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room[S, V, D, E, A]) post(ctx context.Context, m any) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}

	select {
	case r.mailbox <- m:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room[S, V, D, E, A]) inspect(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := r.post(ctx, inspectMail{fn: fn, done: done}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room[S, V, D, E, A]) loop() {
	defer close(r.stopped)

	for {
		select {
		case <-r.done:
			r.shutdown()
			return
		case m := <-r.mailbox:
			r.dispatch(m)
		}
	}
}

func (r *Room[S, V, D, E, A]) dispatch(m any) {
	switch m := m.(type) {
	case joinMail:
		r.handleJoin(m)
	case leaveMail:
		r.handleLeave(m.id)
	case frameMail:
		r.handleFrame(m.id, m.data)
	case alarmMail:
		r.handleAlarm(m.token)
	case inspectMail:
		m.fn()
		close(m.done)
	}
}

func (r *Room[S, V, D, E, A]) shutdown() {
	r.stopAlarm()

	data, err := protocol.Encode(protocol.Error{Code: protocol.CodeRoomClosed, Message: "Room closed", Fatal: true})
	for _, id := range r.order {
		m := r.members[id]
		if err == nil {
			m.peer.Send(data)
		}
		m.peer.Close(websocket.StatusGoingAway, "room closed")
	}
	r.members = make(map[string]*member)
	r.order = nil
	r.connections.Store(0)

	r.cancel()
	r.logger.Debug("Room stopped")
}

// load reads state, seq and next_id once. A room without stored state starts
// from the application's initial state.
func (r *Room[S, V, D, E, A]) load() error {
	if r.loaded {
		return nil
	}

	blob, err := r.cache.Get(r.ctx, keyState)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.state = r.app.NewState()
		if blob, err = msgpack.Marshal(&r.state); err != nil {
			return fmt.Errorf("encoding initial state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("loading state: %w", err)
	default:
		var state S
		if err := msgpack.Unmarshal(blob, &state); err != nil {
			return fmt.Errorf("decoding state: %w", err)
		}
		r.state = state
	}

	seq, err := r.cache.getCounter(r.ctx, keySeq, 0)
	if err != nil {
		return fmt.Errorf("loading seq: %w", err)
	}
	nextID, err := r.cache.getCounter(r.ctx, keyNextID, 1)
	if err != nil {
		return fmt.Errorf("loading next_id: %w", err)
	}

	r.blob = blob
	r.seq = seq
	r.nextID = nextID
	r.loaded = true

	r.logger.Debug("Room loaded", zap.Uint64("seq", seq), zap.Uint64("next_id", nextID))
	return nil
}

// restore discards in-memory changes by decoding the last persisted state.
func (r *Room[S, V, D, E, A]) restore() {
	var state S
	if err := msgpack.Unmarshal(r.blob, &state); err != nil {
		r.logger.Error("Failed to restore room state", zap.Error(err))
		return
	}
	r.state = state
}

func (r *Room[S, V, D, E, A]) persist(ctx context.Context, fx *Effects[D, E]) error {
	blob, err := msgpack.Marshal(&r.state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	seq := r.seq + fx.SeqAdvance()
	nextID := fx.PeekNextID()

	if !bytes.Equal(blob, r.blob) {
		if err := r.cache.Put(ctx, keyState, blob); err != nil {
			return err
		}
	}
	if seq != r.seq {
		if err := r.cache.putCounter(ctx, keySeq, seq); err != nil {
			return err
		}
	}
	if nextID != r.nextID {
		if err := r.cache.putCounter(ctx, keyNextID, nextID); err != nil {
			return err
		}
	}

	r.blob = blob
	r.seq = seq
	r.nextID = nextID
	return nil
}

// commit runs an application hook and, if it succeeds, persists the new state
// and publishes its effects. On failure nothing the hook did is kept.
func (r *Room[S, V, D, E, A]) commit(ctx context.Context, origin *member, op *protocol.OpID, hook func(Tx[D, E], *S) error) (*Effects[D, E], error) {
	var who *Member
	if origin != nil {
		who = &origin.Member
	}
	fx := NewEffects[D, E](ctx, who, r.now(), r.nextID, r.logger)

	if err := hook(fx, &r.state); err != nil {
		r.restore()
		return nil, err
	}

	if err := r.persist(ctx, fx); err != nil {
		r.restore()
		r.metrics.RecordStorageError(ctx, "save")
		r.logger.Error("Failed to persist room state", zap.Error(err))
		return nil, &ActionError{Code: string(protocol.CodeStorage), Message: "Failed to save state"}
	}

	r.publish(fx, op)
	r.applyAlarm(fx.Alarm)
	return fx, nil
}

func (r *Room[S, V, D, E, A]) publish(fx *Effects[D, E], op *protocol.OpID) {
	ts := protocol.Millis(fx.Now())

	switch {
	case fx.Snapshot:
		r.broadcast(r.snapshot())
	case len(fx.Deltas) == 1:
		r.broadcast(protocol.Delta[D]{Delta: fx.Deltas[0], Seq: r.seq, Timestamp: ts})
	case len(fx.Deltas) > 1:
		r.broadcast(protocol.Deltas[D]{Deltas: fx.Deltas, Seq: r.seq, Timestamp: ts})
	}
	r.metrics.RecordDeltas(r.ctx, int(fx.SeqAdvance()))

	var correlation *protocol.OpID
	if op != nil {
		id := *op
		correlation = &id
	}

	for _, n := range fx.Notifications {
		data, err := protocol.Encode(protocol.Notify[E]{Domain: n.Domain, Event: n.Event, CorrelationID: correlation})
		if err != nil {
			r.logger.Error("Failed to encode notification", zap.String("domain", n.Domain), zap.Error(err))
			continue
		}
		for _, id := range r.order {
			m := r.members[id]
			if n.UserID != "" && m.UserID != n.UserID {
				continue
			}
			if !m.wants(n.Domain) {
				continue
			}
			m.peer.Send(data)
		}
	}
}

func (r *Room[S, V, D, E, A]) snapshot() protocol.Snapshot[V] {
	return protocol.Snapshot[V]{
		State:     r.app.View(&r.state),
		Seq:       r.seq,
		Timestamp: protocol.Millis(r.now()),
	}
}

func (r *Room[S, V, D, E, A]) presence() protocol.Presence {
	seen := make(map[string]bool, len(r.members))
	users := make([]protocol.PresenceInfo, 0, len(r.members))

	for _, id := range r.order {
		m := r.members[id]
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true

		name := m.UserName
		users = append(users, protocol.PresenceInfo{
			UserID:      m.UserID,
			Name:        &name,
			Status:      protocol.PresenceActive,
			ConnectedAt: protocol.Millis(m.ConnectedAt),
		})
	}

	return protocol.Presence{Users: users}
}

func (r *Room[S, V, D, E, A]) send(m *member, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("Failed to encode message", zap.Stringer("tag", msg.Tag()), zap.Error(err))
		return
	}
	m.peer.Send(data)
}

func (r *Room[S, V, D, E, A]) broadcast(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("Failed to encode message", zap.Stringer("tag", msg.Tag()), zap.Error(err))
		return
	}
	for _, id := range r.order {
		r.members[id].peer.Send(data)
	}
}

func (r *Room[S, V, D, E, A]) userOnline(userID string) bool {
	for _, m := range r.members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Room[S, V, D, E, A]) handleJoin(m joinMail) {
	if err := r.load(); err != nil {
		r.metrics.RecordStorageError(r.ctx, "load")
		r.logger.Error("Failed to load room", zap.Error(err))
		m.reply <- joinReply{err: err}
		return
	}

	mem := &member{
		Member: Member{
			ConnectionID: uuid.NewString(),
			UserID:       m.user.ID,
			UserName:     m.user.Name,
			ConnectedAt:  r.now(),
		},
		peer: m.peer,
	}
	r.members[mem.ConnectionID] = mem
	r.order = append(r.order, mem.ConnectionID)
	r.connections.Store(int64(len(r.members)))
	m.reply <- joinReply{id: mem.ConnectionID}

	r.logger.Debug("Connection joined",
		zap.String("connection_id", mem.ConnectionID),
		zap.String("user_id", mem.UserID))

	r.send(mem, protocol.Connected{ProtocolVersion: protocol.ProtocolVersion, ConnectionID: mem.ConnectionID})
	r.send(mem, r.snapshot())

	if _, err := r.commit(r.ctx, mem, nil, func(tx Tx[D, E], s *S) error {
		return r.app.Join(tx, s, mem.Member)
	}); err != nil {
		r.logger.Warn("Join hook failed", zap.String("user_id", mem.UserID), zap.Error(err))
	}

	r.broadcast(r.presence())
}

func (r *Room[S, V, D, E, A]) handleLeave(id string) {
	mem, ok := r.members[id]
	if !ok {
		return
	}

	delete(r.members, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.connections.Store(int64(len(r.members)))
	r.lastActive.Store(r.now().UnixNano())

	r.logger.Debug("Connection left",
		zap.String("connection_id", id),
		zap.String("user_id", mem.UserID))

	if !r.userOnline(mem.UserID) {
		if _, err := r.commit(r.ctx, mem, nil, func(tx Tx[D, E], s *S) error {
			return r.app.Leave(tx, s, mem.Member)
		}); err != nil {
			r.logger.Warn("Leave hook failed", zap.String("user_id", mem.UserID), zap.Error(err))
		}
	}

	r.broadcast(r.presence())
}

func (r *Room[S, V, D, E, A]) handleFrame(id string, data []byte) {
	mem, ok := r.members[id]
	if !ok {
		r.logger.Debug("Dropping frame from unknown connection", zap.String("connection_id", id))
		return
	}

	msg, err := protocol.DecodeClient[A](data)
	if err != nil {
		r.logger.Warn("Dropping undecodable frame",
			zap.String("connection_id", id),
			zap.Int("size", len(data)),
			zap.Error(err))
		r.metrics.RecordMessageError(r.ctx, string(protocol.CodeDecode))
		r.send(mem, protocol.Error{Code: protocol.CodeDecode, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		r.send(mem, protocol.Pong{ClientTs: m.Ts, ServerTs: protocol.Millis(r.now())})
	case protocol.Resync:
		r.send(mem, r.snapshot())
	case protocol.Action[A]:
		r.handleAction(mem, m)
	case protocol.Subscribe:
		mem.subscribe(m.Domains)
	case protocol.Unsubscribe:
		mem.unsubscribe(m.Domains)
	case protocol.SignalTo:
		r.relay(mem, m)
	}
}

func (r *Room[S, V, D, E, A]) handleAction(mem *member, m protocol.Action[A]) {
	ctx, span := o11y.StartSpan(r.ctx, r.tracer, "room.action")
	span.SetAttributes(
		o11y.Label{Key: "room", Value: r.name},
		o11y.Label{Key: "op_id", Value: m.OpID.String()},
	)
	recordCompletion := r.metrics.RecordAction(ctx)

	fx, err := r.commit(ctx, mem, &m.OpID, func(tx Tx[D, E], s *S) error {
		return r.app.Handle(tx, s, m.Action)
	})

	if err != nil {
		r.logger.Debug("Action rejected",
			zap.Stringer("op_id", m.OpID),
			zap.String("user_id", mem.UserID),
			zap.Error(err))
		r.send(mem, actionFailure(m.OpID, err))
	} else {
		r.send(mem, protocol.ActionOk{OpID: m.OpID, Result: fx.Result})
	}

	recordCompletion(err)
	o11y.EndSpan(span, err)
}

func (r *Room[S, V, D, E, A]) relay(from *member, m protocol.SignalTo) {
	if !m.Signal.IsValid() {
		r.send(from, protocol.Error{Code: protocol.CodeInvalidSignal, Message: "Signal payload is incomplete"})
		return
	}

	data, err := protocol.Encode(protocol.Signal{FromUserID: from.UserID, Signal: m.Signal})
	if err != nil {
		r.logger.Error("Failed to encode signal", zap.Error(err))
		return
	}

	delivered := false
	for _, id := range r.order {
		target := r.members[id]
		if target.UserID == m.TargetUserID {
			target.peer.Send(data)
			delivered = true
		}
	}

	if !delivered {
		r.send(from, protocol.Error{
			Code:    protocol.CodeUnknownTarget,
			Message: fmt.Sprintf("User %s is not connected", m.TargetUserID),
		})
	}
}

func (r *Room[S, V, D, E, A]) applyAlarm(change *AlarmChange) {
	if change == nil {
		return
	}

	r.stopAlarm()
	if change.Cancel {
		return
	}

	token := r.alarmToken
	r.alarm = time.AfterFunc(change.After, func() {
		_ = r.post(context.Background(), alarmMail{token: token})
	})
	r.alarmPending.Store(true)
}

// stopAlarm clears the slot. A timer that already fired still posts its mail,
// which handleAlarm ignores because the token moved on.
func (r *Room[S, V, D, E, A]) stopAlarm() {
	if r.alarm != nil {
		r.alarm.Stop()
		r.alarm = nil
	}
	r.alarmToken++
	r.alarmPending.Store(false)
}

func (r *Room[S, V, D, E, A]) handleAlarm(token uint64) {
	if r.alarm == nil || token != r.alarmToken {
		return
	}
	r.alarm = nil
	r.alarmToken++
	r.alarmPending.Store(false)

	if _, err := r.commit(r.ctx, nil, nil, func(tx Tx[D, E], s *S) error {
		return r.app.Alarm(tx, s)
	}); err != nil {
		r.logger.Warn("Alarm hook failed", zap.Error(err))
	}
}

func (m *member) wants(domain string) bool {
	if len(m.subscriptions) == 0 {
		return true
	}
	for _, pattern := range m.subscriptions {
		if mqttpattern.Matches(pattern, domain) {
			return true
		}
	}
	return false
}

func (m *member) subscribe(patterns []string) {
	for _, p := range patterns {
		if p == "" || m.subscribed(p) {
			continue
		}
		m.subscriptions = append(m.subscriptions, p)
	}
}

func (m *member) unsubscribe(patterns []string) {
	kept := m.subscriptions[:0]
	for _, s := range m.subscriptions {
		drop := false
		for _, p := range patterns {
			if s == p {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	m.subscriptions = kept
}

func (m *member) subscribed(pattern string) bool {
	for _, s := range m.subscriptions {
		if s == pattern {
			return true
		}
	}
	return false
}
