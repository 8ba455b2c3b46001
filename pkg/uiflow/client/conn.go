package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"go.uber.org/zap"
)

// recentOpsSize bounds the set of completed operations remembered for
// duplicate suppression.
const recentOpsSize = 256

// sink receives everything the connection core produces. Client dispatches
// to callbacks, Poller queues events.
type sink[S, D, E any] interface {
	deliver(msg protocol.ServerMessage[S, D, E])
	statusChanged(status Status)
	decodeFailed(err error)
}

// conn is the state machine shared by Client and Poller. It owns at most one
// socket at a time, a keepalive ticker and the reconnect loop.
type conn[S, D, E, A any] struct {
	url          string
	logger       *zap.Logger
	dialer       Dialer
	dialTimeout  time.Duration
	writeTimeout time.Duration
	reconnect    ReconnectConfig
	authProvider AuthorizationProvider
	headers      map[string][]string
	sink         sink[S, D, E]

	mu            sync.Mutex
	started       bool
	gen           uint64
	cancel        context.CancelFunc
	sock          Socket
	status        Status
	connectionID  string
	seq           uint64
	hasSeq        bool
	resyncPending bool
	subscriptions map[string]struct{}
	recentOps     map[protocol.OpID]struct{}
	recentOrder   []protocol.OpID
}

func (c *conn[S, D, E, A]) init(b *config, s sink[S, D, E]) {
	c.url = b.url
	c.logger = b.logger
	c.dialer = b.dialer
	c.dialTimeout = b.dialTimeout
	c.writeTimeout = b.writeTimeout
	c.reconnect = b.reconnect
	c.authProvider = b.authProvider
	c.headers = b.headers
	c.sink = s
	c.status = Disconnected
	c.subscriptions = make(map[string]struct{})
	c.recentOps = make(map[protocol.OpID]struct{}, recentOpsSize)
}

// Connect dials the server. The first dial is synchronous; after that the
// connection is supervised in the background until Disconnect is called or
// reconnecting gives up.
func (c *conn[S, D, E, A]) Connect(ctx context.Context) error {
	if err := validateURL(c.url); err != nil {
		return err
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(gen, Connecting)

	sock, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("Failed to connect", zap.String("url", c.url), zap.Error(err))
		final := Disconnected
		if closeInfoFromError(err).IsAuthFailure() {
			final = AuthFailed
		}
		c.finish(gen, final)
		return &TransportError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = sock.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrNotConnected
	}
	c.sock = sock
	c.mu.Unlock()

	c.logger.Info("Client connected", zap.String("url", c.url))
	c.setStatus(gen, Connected)

	go c.run(runCtx, gen, sock)

	return nil
}

// Disconnect closes the socket and stops keepalive and reconnection. It is
// safe to call from a handler and on a client that is not connected.
func (c *conn[S, D, E, A]) Disconnect() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.gen++
	gen := c.gen
	cancel := c.cancel
	sock := c.sock
	c.sock = nil
	c.resyncPending = false
	c.mu.Unlock()

	c.logger.Info("Disconnecting client")

	cancel()
	if sock != nil {
		_ = sock.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.setStatus(gen, Disconnected)

	return nil
}

// Status returns the current connection status.
func (c *conn[S, D, E, A]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CurrentSeq returns the sequence of the last applied snapshot or delta, and
// false if none has been received yet.
func (c *conn[S, D, E, A]) CurrentSeq() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.hasSeq
}

// ConnectionID returns the id the server assigned to the current socket.
func (c *conn[S, D, E, A]) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// SendAction submits an action under a caller chosen OpID.
func (c *conn[S, D, E, A]) SendAction(opID protocol.OpID, action A) error {
	return c.send(protocol.Action[A]{OpID: opID, Action: action})
}

// Send submits an action under a freshly allocated OpID.
func (c *conn[S, D, E, A]) Send(action A) (protocol.OpID, error) {
	opID := protocol.NewOpID()
	return opID, c.SendAction(opID, action)
}

// Resync asks the server for a full snapshot.
func (c *conn[S, D, E, A]) Resync() error {
	c.mu.Lock()
	msg := protocol.Resync{}
	if c.hasSeq {
		last := c.seq
		msg.LastSeq = &last
	}
	c.mu.Unlock()

	return c.send(msg)
}

// Subscribe adds notification domain patterns. Patterns are replayed after a
// reconnect.
func (c *conn[S, D, E, A]) Subscribe(domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	if err := c.send(protocol.Subscribe{Domains: domains}); err != nil {
		return err
	}

	c.mu.Lock()
	for _, d := range domains {
		c.subscriptions[d] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes notification domain patterns.
func (c *conn[S, D, E, A]) Unsubscribe(domains ...string) error {
	if len(domains) == 0 {
		return nil
	}
	if err := c.send(protocol.Unsubscribe{Domains: domains}); err != nil {
		return err
	}

	c.mu.Lock()
	for _, d := range domains {
		delete(c.subscriptions, d)
	}
	c.mu.Unlock()
	return nil
}

// SendPing sends a keepalive carrying the local clock.
func (c *conn[S, D, E, A]) SendPing() error {
	return c.send(protocol.Ping{Ts: protocol.NowMillis()})
}

// SendSignal relays a peer signalling payload to another user in the room.
func (c *conn[S, D, E, A]) SendSignal(targetUserID string, signal protocol.SignalPayload) error {
	return c.send(protocol.SignalTo{TargetUserID: targetUserID, Signal: signal})
}

func (c *conn[S, D, E, A]) send(msg protocol.Message) error {
	c.mu.Lock()
	sock := c.sock
	connected := c.status.IsConnected()
	c.mu.Unlock()

	if sock == nil || !connected {
		return ErrNotConnected
	}
	return c.writeTo(sock, msg)
}

func (c *conn[S, D, E, A]) writeTo(sock Socket, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := sock.Write(ctx, data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *conn[S, D, E, A]) dial(ctx context.Context) (Socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	header := make(http.Header, len(c.headers)+1)
	for key, values := range c.headers {
		header[key] = values
	}

	if c.authProvider != nil {
		authValue, err := c.authProvider(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			header.Set("Authorization", authValue)
		}
	}

	return c.dialer.Dial(dialCtx, c.url, header)
}

// run supervises the connection of one generation: it serves the socket until
// it closes, then backs off and redials until it succeeds, the attempt limit
// is exceeded, authentication fails or ctx is cancelled.
func (c *conn[S, D, E, A]) run(ctx context.Context, gen uint64, sock Socket) {
	attempt := 0

	for {
		err := c.serve(ctx, gen, sock)

		c.mu.Lock()
		if c.sock == sock {
			c.sock = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		info := closeInfoFromError(err)
		c.logger.Info("Connection closed", zap.Int("code", int(info.Code)), zap.String("reason", info.Reason))

		for {
			if info.IsAuthFailure() {
				c.finish(gen, AuthFailed)
				return
			}

			attempt++
			if c.reconnect.Exhausted(attempt) {
				c.logger.Warn("Giving up reconnecting", zap.Int("attempts", attempt-1))
				c.finish(gen, Disconnected)
				return
			}

			delay := c.reconnect.Delay(attempt)
			c.setStatus(gen, Reconnecting(attempt))
			c.logger.Debug("Reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			c.setStatus(gen, Connecting)

			next, err := c.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Debug("Reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
				info = closeInfoFromError(err)
				continue
			}

			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				_ = next.Close(websocket.StatusNormalClosure, "client disconnect")
				return
			}
			c.sock = next
			c.resyncPending = false
			domains := make([]string, 0, len(c.subscriptions))
			for d := range c.subscriptions {
				domains = append(domains, d)
			}
			c.mu.Unlock()

			sock = next
			attempt = 0
			c.logger.Info("Client reconnected", zap.String("url", c.url))
			c.setStatus(gen, Connected)

			if len(domains) > 0 {
				if err := c.writeTo(sock, protocol.Subscribe{Domains: domains}); err != nil {
					c.logger.Warn("Failed to restore subscriptions", zap.Error(err))
				}
			}
			break
		}
	}
}

// serve reads frames until the socket fails, running the keepalive alongside.
func (c *conn[S, D, E, A]) serve(ctx context.Context, gen uint64, sock Socket) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.reconnect.PingInterval > 0 {
		go c.keepalive(serveCtx, sock)
	}

	for {
		data, err := sock.Read(serveCtx)
		if err != nil {
			return err
		}
		c.dispatch(gen, sock, data)
	}
}

func (c *conn[S, D, E, A]) keepalive(ctx context.Context, sock Socket) {
	ticker := time.NewTicker(c.reconnect.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeTo(sock, protocol.Ping{Ts: protocol.NowMillis()}); err != nil {
				c.logger.Debug("Keepalive ping failed", zap.Error(err))
			}
		}
	}
}

func (c *conn[S, D, E, A]) dispatch(gen uint64, sock Socket, data []byte) {
	msg, err := protocol.DecodeServer[S, D, E](data)
	if err != nil {
		if protocol.IsUnknownTag(err) {
			c.logger.Debug("Ignoring unknown message", zap.Error(err))
		} else {
			c.logger.Warn("Dropping undecodable frame", zap.Error(err))
		}
		c.sink.decodeFailed(err)
		return
	}

	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		return
	}

	if !c.accept(sock, msg) {
		return
	}
	c.sink.deliver(msg)
}

// accept applies sequence tracking and duplicate suppression and reports
// whether msg should reach the application.
func (c *conn[S, D, E, A]) accept(sock Socket, msg protocol.ServerMessage[S, D, E]) bool {
	c.mu.Lock()

	switch m := msg.(type) {
	case protocol.Connected:
		c.connectionID = m.ConnectionID

	case protocol.Snapshot[S]:
		c.seq = m.Seq
		c.hasSeq = true
		c.resyncPending = false

	case protocol.Delta[D]:
		if c.hasSeq && m.Seq == c.seq+1 {
			c.seq = m.Seq
			break
		}
		return c.rejectLocked(sock, m.Seq)

	case protocol.Deltas[D]:
		if c.hasSeq && len(m.Deltas) > 0 && m.BaseSeq() == c.seq {
			c.seq = m.Seq
			break
		}
		return c.rejectLocked(sock, m.Seq)

	case protocol.ActionOk:
		if !c.rememberLocked(m.OpID) {
			c.mu.Unlock()
			return false
		}

	case protocol.ActionErr:
		if !c.rememberLocked(m.OpID) {
			c.mu.Unlock()
			return false
		}
	}

	c.mu.Unlock()
	return true
}

// rejectLocked discards an out of order delta. Stale deltas are dropped
// quietly; a gap triggers a single Resync until the next snapshot arrives.
// It releases c.mu.
func (c *conn[S, D, E, A]) rejectLocked(sock Socket, seq uint64) bool {
	if c.hasSeq && seq <= c.seq {
		c.mu.Unlock()
		c.logger.Debug("Dropping stale delta", zap.Uint64("seq", seq))
		return false
	}

	if c.resyncPending {
		c.mu.Unlock()
		return false
	}
	c.resyncPending = true

	msg := protocol.Resync{}
	if c.hasSeq {
		last := c.seq
		msg.LastSeq = &last
	}
	current := c.seq
	c.mu.Unlock()

	c.logger.Info("Sequence gap, requesting resync", zap.Uint64("current", current), zap.Uint64("received", seq))
	if err := c.writeTo(sock, msg); err != nil {
		c.logger.Warn("Failed to request resync", zap.Error(err))
		c.mu.Lock()
		c.resyncPending = false
		c.mu.Unlock()
	}
	return false
}

// rememberLocked records a completed operation, returning false if it was
// already seen.
func (c *conn[S, D, E, A]) rememberLocked(id protocol.OpID) bool {
	if _, seen := c.recentOps[id]; seen {
		return false
	}
	if len(c.recentOrder) >= recentOpsSize {
		oldest := c.recentOrder[0]
		c.recentOrder = c.recentOrder[1:]
		delete(c.recentOps, oldest)
	}
	c.recentOps[id] = struct{}{}
	c.recentOrder = append(c.recentOrder, id)
	return true
}

// finish ends the current generation with a terminal status.
func (c *conn[S, D, E, A]) finish(gen uint64, status Status) {
	c.mu.Lock()
	if c.gen == gen {
		c.started = false
		c.sock = nil
		if c.cancel != nil {
			c.cancel()
		}
	}
	c.mu.Unlock()

	c.setStatus(gen, status)
}

// setStatus publishes a status change unless gen has been superseded.
func (c *conn[S, D, E, A]) setStatus(gen uint64, status Status) {
	c.mu.Lock()
	if c.gen != gen || c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.logger.Debug("Connection status changed", zap.Stringer("status", status))
	c.sink.statusChanged(status)
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: URL is required", ErrConfiguration)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrConfiguration, err)
	}

	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported URL scheme %q", ErrConfiguration, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: URL has no host", ErrConfiguration)
	}
	return nil
}

// IsNotConnected reports whether err means no socket was open.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
