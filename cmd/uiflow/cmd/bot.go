package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tsarna/uiflow/pkg/uiflow/client"
	"github.com/tsarna/uiflow/pkg/uiflow/memory"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"go.uber.org/zap"
)

// botCmd represents the bot command
var botCmd = &cobra.Command{
	Use:   "bot <websocket-url>",
	Short: "Play the memory game automatically",
	Long: `Join a memory game room and play it until the game ends.

The bot remembers every face it has seen and flips known pairs first. If it
becomes the host it starts the game once --players players have joined.

Examples:
  uiflow bot ws://localhost:8080/ws/lobby
  uiflow bot ws://localhost:8080/ws/lobby --name alice --players 2`,
	Args: cobra.ExactArgs(1),
	RunE: runBotCmd,
}

var (
	botName        string
	botUserID      string
	botPlayers     int
	botTick        time.Duration
	botOpTimeout   time.Duration
	botDialTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(botCmd)

	botCmd.Flags().StringVar(&botName, "name", "bot", "display name")
	botCmd.Flags().StringVar(&botUserID, "user-id", "", "user id (default: random)")
	botCmd.Flags().IntVar(&botPlayers, "players", 1, "players to wait for before starting, when host")
	botCmd.Flags().DurationVar(&botTick, "tick", 50*time.Millisecond, "interval between moves")
	botCmd.Flags().DurationVar(&botOpTimeout, "op-timeout", 5*time.Second, "how long to wait for an action reply")
	botCmd.Flags().DurationVar(&botDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
}

func runBotCmd(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	view, err := runBot(ctx, botOptions{
		URL:         args[0],
		UserID:      botUserID,
		Name:        botName,
		Players:     botPlayers,
		Tick:        botTick,
		OpTimeout:   botOpTimeout,
		DialTimeout: botDialTimeout,
	}, logger)
	if err != nil {
		return err
	}

	for i, r := range view.Phase.Rankings {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s %d\n", i+1, r.Name, r.Score)
	}
	return nil
}

type botOptions struct {
	URL         string
	UserID      string
	Name        string
	Players     int
	Tick        time.Duration
	OpTimeout   time.Duration
	DialTimeout time.Duration
}

// bot drives one player from a Poller. At most one action is in flight.
type bot struct {
	opts    botOptions
	logger  *zap.Logger
	poller  *client.Poller[memory.View, memory.Delta, memory.Event, memory.Action]
	mirror  *client.Mirror[memory.View, memory.Delta, *memory.View]
	ops     *client.OperationTracker[memory.Action]
	brain   *brain
	pending bool
	current protocol.OpID
}

// runBot plays until a game it took part in finishes and returns the final
// view.
func runBot(ctx context.Context, opts botOptions, logger *zap.Logger) (memory.View, error) {
	if opts.UserID == "" {
		opts.UserID = "bot_" + uuid.NewString()[:8]
	}
	if opts.Tick <= 0 {
		opts.Tick = 50 * time.Millisecond
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	logger = logger.With(zap.String("user_id", opts.UserID))

	poller, err := client.NewClient[memory.View, memory.Delta, memory.Event, memory.Action]().
		WithURL(opts.URL).
		WithUser(opts.UserID, opts.Name).
		WithLogger(logger).
		WithDialTimeout(opts.DialTimeout).
		BuildPoller()
	if err != nil {
		return memory.View{}, fmt.Errorf("failed to create client: %w", err)
	}

	b := &bot{
		opts:   opts,
		logger: logger,
		poller: poller,
		mirror: client.NewMirror[memory.View, memory.Delta, *memory.View](),
		ops:    client.NewOperationTracker[memory.Action](),
		brain:  newBrain(opts.UserID, opts.Players),
	}

	if err := poller.Connect(ctx); err != nil {
		return memory.View{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := poller.Disconnect(); err != nil {
			logger.Warn("Error during client disconnect", zap.Error(err))
		}
	}()

	return b.loop(ctx)
}

func (b *bot) loop(ctx context.Context) (memory.View, error) {
	ticker := time.NewTicker(b.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			view, _, _ := b.mirror.View()
			return view, ctx.Err()
		case <-ticker.C:
		}

		for {
			ev, ok := b.poller.Poll()
			if !ok {
				break
			}
			if err := b.handle(ev); err != nil {
				view, _, _ := b.mirror.View()
				return view, err
			}
		}

		view, _, synced := b.mirror.View()
		if !synced {
			continue
		}
		if b.brain.finished(&view) {
			b.logger.Info("Game finished", zap.Any("rankings", view.Phase.Rankings))
			return view, nil
		}

		if b.pending {
			b.ops.CleanupStale(b.opts.OpTimeout)
			if _, tracked := b.ops.Get(b.current); tracked {
				continue
			}
			b.logger.Warn("Action timed out", zap.Stringer("op_id", b.current))
			b.pending = false
		}

		if action, ok := b.brain.next(&view); ok {
			b.send(action)
		}
	}
}

func (b *bot) handle(ev client.Event[memory.View, memory.Delta, memory.Event]) error {
	switch {
	case ev.Status != nil:
		switch ev.Status.Kind {
		case client.StatusDisconnected:
			return errors.New("connection closed")
		case client.StatusAuthFailed:
			return errors.New("authentication failed")
		}
		return nil
	case ev.Err != nil:
		b.logger.Debug("Dropped undecodable message", zap.Error(ev.Err))
		return nil
	}

	switch m := ev.Message.(type) {
	case protocol.Connected:
		b.brain.reset()
		b.pending = false
		b.send(memory.JoinGame(b.opts.Name))

	case protocol.Snapshot[memory.View]:
		b.mirror.ApplySnapshot(m)
		b.brain.observeView(&m.State)

	case protocol.Delta[memory.Delta]:
		if !b.mirror.ApplyDelta(m) {
			b.resync()
			return nil
		}
		b.brain.observeDelta(m.Delta)

	case protocol.Deltas[memory.Delta]:
		if !b.mirror.ApplyDeltas(m) {
			b.resync()
			return nil
		}
		for _, d := range m.Deltas {
			b.brain.observeDelta(d)
		}

	case protocol.Notify[memory.Event]:
		b.brain.observeEvent(m.Event)

	case protocol.ActionOk:
		b.ops.Complete(m)
		b.finish(m.OpID)

	case protocol.ActionErr:
		if b.ops.Fail(m) {
			op, _ := b.ops.Get(m.OpID)
			b.logger.Debug("Action rejected",
				zap.String("action", string(op.Data.Type)),
				zap.String("code", m.Code),
				zap.String("message", m.Message),
			)
		}
		b.finish(m.OpID)

	case protocol.Error:
		if m.Fatal {
			return fmt.Errorf("server error: %s", m.Message)
		}
		b.logger.Warn("Server error", zap.String("code", m.Code.String()), zap.String("message", m.Message))
	}
	return nil
}

func (b *bot) send(action memory.Action) {
	id := b.ops.Start(action)
	if err := b.poller.SendAction(id, action); err != nil {
		b.logger.Debug("Failed to send action", zap.String("action", string(action.Type)), zap.Error(err))
		b.ops.Remove(id)
		return
	}
	b.pending, b.current = true, id
}

func (b *bot) finish(id protocol.OpID) {
	b.ops.Remove(id)
	if b.pending && id == b.current {
		b.pending = false
	}
}

func (b *bot) resync() {
	if err := b.poller.Resync(); err != nil {
		b.logger.Debug("Failed to request resync", zap.Error(err))
	}
}
