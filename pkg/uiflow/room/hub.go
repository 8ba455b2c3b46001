package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"go.uber.org/zap"
)

const (
	// DefaultIdleTimeout is how long a room without connections stays in memory.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultSweepSchedule is the cron schedule of the idle room sweep.
	DefaultSweepSchedule = "@every 1m"
)

// Endpoint is the part of a room a connection talks to.
type Endpoint interface {
	Join(ctx context.Context, peer Peer, user User) (string, error)
	Leave(connID string)
	Deliver(ctx context.Context, connID string, data []byte) error
}

// Rooms resolves room names to running rooms.
type Rooms interface {
	Open(ctx context.Context, name string) (Endpoint, error)
}

// HubConfig configures a Hub. Use NewHub() and the With methods, then Build().
type HubConfig[S, V, D, E, A any] struct {
	app           Application[S, V, D, E, A]
	store         storage.Store
	logger        *zap.Logger
	metrics       *Metrics
	tracer        o11y.TracingProvider
	idleTimeout   time.Duration
	sweepSchedule string
	mailboxSize   int
	now           func() time.Time
}

// NewHub starts the configuration of a Hub.
//
//	hub, err := room.NewHub[State, View, Delta, Event, Action]().
//	    WithApplication(app).
//	    WithStore(storage.NewMemoryStore()).
//	    WithLogger(logger).
//	    Build()
func NewHub[S, V, D, E, A any]() *HubConfig[S, V, D, E, A] {
	return &HubConfig[S, V, D, E, A]{
		logger:        zap.NewNop(),
		idleTimeout:   DefaultIdleTimeout,
		sweepSchedule: DefaultSweepSchedule,
		mailboxSize:   DefaultMailboxSize,
		now:           time.Now,
	}
}

func (c *HubConfig[S, V, D, E, A]) WithApplication(app Application[S, V, D, E, A]) *HubConfig[S, V, D, E, A] {
	c.app = app
	return c
}

func (c *HubConfig[S, V, D, E, A]) WithStore(store storage.Store) *HubConfig[S, V, D, E, A] {
	c.store = store
	return c
}

func (c *HubConfig[S, V, D, E, A]) WithLogger(logger *zap.Logger) *HubConfig[S, V, D, E, A] {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithMetrics shares listener metrics with the hub and its rooms.
func (c *HubConfig[S, V, D, E, A]) WithMetrics(metrics *Metrics) *HubConfig[S, V, D, E, A] {
	c.metrics = metrics
	return c
}

// WithTracing wraps every action in a span.
func (c *HubConfig[S, V, D, E, A]) WithTracing(tracer o11y.TracingProvider) *HubConfig[S, V, D, E, A] {
	c.tracer = tracer
	return c
}

// WithIdleTimeout sets how long an empty room is kept. Zero disables eviction.
func (c *HubConfig[S, V, D, E, A]) WithIdleTimeout(timeout time.Duration) *HubConfig[S, V, D, E, A] {
	if timeout >= 0 {
		c.idleTimeout = timeout
	}
	return c
}

// WithSweepSchedule sets the cron schedule for evicting idle rooms.
func (c *HubConfig[S, V, D, E, A]) WithSweepSchedule(schedule string) *HubConfig[S, V, D, E, A] {
	if schedule != "" {
		c.sweepSchedule = schedule
	}
	return c
}

// WithMailboxSize sets how many inbound messages a room buffers.
func (c *HubConfig[S, V, D, E, A]) WithMailboxSize(size int) *HubConfig[S, V, D, E, A] {
	if size > 0 {
		c.mailboxSize = size
	}
	return c
}

func (c *HubConfig[S, V, D, E, A]) IsValid() error {
	var missing []string
	if c.app == nil {
		missing = append(missing, "Application")
	}
	if c.store == nil {
		missing = append(missing, "Store")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid hub configuration, missing: %v", missing)
	}
	return nil
}

func (c *HubConfig[S, V, D, E, A]) Build() (*Hub[S, V, D, E, A], error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	h := &Hub[S, V, D, E, A]{
		config: c,
		logger: c.logger,
		rooms:  make(map[string]*Room[S, V, D, E, A]),
	}

	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	h.cron = cron.New(cron.WithLogger(NewZapCronLogger(c.logger)), cron.WithParser(parser))

	if c.idleTimeout > 0 {
		if _, err := h.cron.AddFunc(c.sweepSchedule, func() { h.Sweep() }); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", c.sweepSchedule, err)
		}
	}

	return h, nil
}

// Hub owns the running rooms of one application.
type Hub[S, V, D, E, A any] struct {
	config *HubConfig[S, V, D, E, A]
	logger *zap.Logger
	cron   *cron.Cron

	mu     sync.Mutex
	rooms  map[string]*Room[S, V, D, E, A]
	closed bool
}

// Start begins the periodic idle sweep.
func (h *Hub[S, V, D, E, A]) Start() {
	h.cron.Start()
}

// Room returns the running room called name, starting it if necessary.
func (h *Hub[S, V, D, E, A]) Room(name string) (*Room[S, V, D, E, A], error) {
	if err := storage.ValidateName("room", name); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrRoomClosed
	}

	if r, ok := h.rooms[name]; ok {
		select {
		case <-r.Done():
		default:
			return r, nil
		}
	}

	r := newRoom(name, h.config.app, roomOptions{
		store:       h.config.store,
		logger:      h.logger,
		metrics:     h.config.metrics,
		tracer:      h.config.tracer,
		mailboxSize: h.config.mailboxSize,
		now:         h.config.now,
	})
	h.rooms[name] = r

	h.config.metrics.RecordRoomOpened(context.Background())
	h.config.metrics.RecordRoomCount(context.Background(), len(h.rooms))
	h.logger.Debug("Room opened", zap.String("room", name))

	return r, nil
}

// Open implements Rooms.
func (h *Hub[S, V, D, E, A]) Open(ctx context.Context, name string) (Endpoint, error) {
	r, err := h.Room(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RoomCount returns the number of rooms in memory.
func (h *Hub[S, V, D, E, A]) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// RoomNames returns the names of the rooms in memory, sorted.
func (h *Hub[S, V, D, E, A]) RoomNames() []string {
	h.mu.Lock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	h.mu.Unlock()

	sort.Strings(names)
	return names
}

// Sweep stops rooms that have been idle for longer than the idle timeout and
// returns how many were stopped. Their state stays in storage.
func (h *Hub[S, V, D, E, A]) Sweep() int {
	if h.config.idleTimeout <= 0 {
		return 0
	}
	cutoff := h.config.now().Add(-h.config.idleTimeout)

	h.mu.Lock()
	var idle []*Room[S, V, D, E, A]
	for name, r := range h.rooms {
		if r.Idle(cutoff) {
			idle = append(idle, r)
			delete(h.rooms, name)
		}
	}
	count := len(h.rooms)
	h.mu.Unlock()

	ctx := context.Background()
	for _, r := range idle {
		if err := r.Close(ctx); err != nil {
			h.logger.Warn("Failed to stop idle room", zap.String("room", r.Name()), zap.Error(err))
		}
		h.config.metrics.RecordRoomEvicted(ctx)
		h.logger.Debug("Idle room evicted", zap.String("room", r.Name()))
	}
	h.config.metrics.RecordRoomCount(ctx, count)

	return len(idle)
}

// Shutdown stops the sweep and every room.
func (h *Hub[S, V, D, E, A]) Shutdown(ctx context.Context) error {
	stopped := h.cron.Stop()

	h.mu.Lock()
	h.closed = true
	rooms := make([]*Room[S, V, D, E, A], 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*Room[S, V, D, E, A])
	h.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", r.Name(), err))
		}
	}

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	h.logger.Info("Hub stopped", zap.Int("rooms", len(rooms)))
	return errors.Join(errs...)
}
