package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"github.com/tsarna/uiflow/pkg/uiflow/chat"
	"github.com/tsarna/uiflow/pkg/uiflow/client"
	"github.com/tsarna/uiflow/pkg/uiflow/config"
	"github.com/tsarna/uiflow/pkg/uiflow/memory"
	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <websocket-url> [domain-patterns...]",
	Short: "Print the messages a room sends",
	Long: `Connect to a room and print every server message as one JSON line.

Additional arguments are notification domain patterns to subscribe to
(MQTT-style patterns). Without them every domain is delivered.

Each line has the form {"tag": 1001, "type": "delta", "data": {...}}.
A jq expression given with --filter is applied to each line and every
result is printed instead.

Examples:
  uiflow watch ws://localhost:8080/ws/lobby
  uiflow watch ws://localhost:8080/ws/lobby "game/#" --filter 'select(.type == "notify") | .data.event'
  uiflow watch ws://localhost:8080/chat/lobby --app chat --notify-only`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var (
	watchApp         string
	watchFilter      string
	watchUserID      string
	watchUserName    string
	watchNotifyOnly  bool
	watchDialTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchApp, "app", config.AppMemory, "application the room runs (memory, chat)")
	watchCmd.Flags().StringVar(&watchFilter, "filter", "", "jq expression applied to each message")
	watchCmd.Flags().StringVar(&watchUserID, "user-id", "", "user id to connect as (default: assigned by the server)")
	watchCmd.Flags().StringVar(&watchUserName, "user-name", "watcher", "display name to connect as")
	watchCmd.Flags().BoolVar(&watchNotifyOnly, "notify-only", false, "ignore room state and only decode notifications")
	watchCmd.Flags().DurationVar(&watchDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	printer, err := newPrinter(cmd.OutOrStdout(), watchFilter, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := watchOptions{url: args[0], domains: args[1:], logger: logger, printer: printer}

	switch {
	case watchApp == config.AppMemory && watchNotifyOnly:
		return watch(ctx, client.NewNotifyClient[memory.Event, memory.Action](), opts)
	case watchApp == config.AppMemory:
		return watch(ctx, client.NewClient[memory.View, memory.Delta, memory.Event, memory.Action](), opts)
	case watchApp == config.AppChat && watchNotifyOnly:
		return watch(ctx, client.NewNotifyClient[chat.Event, chat.Action](), opts)
	case watchApp == config.AppChat:
		return watch(ctx, client.NewClient[chat.State, chat.Delta, chat.Event, chat.Action](), opts)
	default:
		return fmt.Errorf("unknown app %q", watchApp)
	}
}

type watchOptions struct {
	url     string
	domains []string
	logger  *zap.Logger
	printer *printer
}

func watch[S, D, E, A any](ctx context.Context, builder *client.ClientBuilder[S, D, E, A], opts watchOptions) error {
	p := opts.printer
	c, err := builder.
		WithURL(opts.url).
		WithUser(watchUserID, watchUserName).
		WithLogger(opts.logger).
		WithDialTimeout(watchDialTimeout).
		WithHandlers(client.Handlers[S, D, E]{
			OnConnected: func(m protocol.Connected) { p.print(m) },
			OnSnapshot:  func(m protocol.Snapshot[S]) { p.print(m) },
			OnDelta:     func(m protocol.Delta[D]) { p.print(m) },
			OnDeltas:    func(m protocol.Deltas[D]) { p.print(m) },
			OnPresence:  func(m protocol.Presence) { p.print(m) },
			OnSignal:    func(m protocol.Signal) { p.print(m) },
			OnNotify:    func(m protocol.Notify[E]) { p.print(m) },
			OnProgress:  func(m protocol.Progress) { p.print(m) },
			OnActionOk:  func(m protocol.ActionOk) { p.print(m) },
			OnActionErr: func(m protocol.ActionErr) { p.print(m) },
			OnPong:      func(m protocol.Pong) { p.print(m) },
			OnError:     func(m protocol.Error) { p.print(m) },
			OnStatus: func(s client.Status) {
				opts.logger.Info("Connection status changed", zap.String("status", s.Description()))
			},
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := c.Disconnect(); err != nil {
			opts.logger.Warn("Error during client disconnect", zap.Error(err))
		}
	}()

	if err := c.Subscribe(opts.domains...); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	opts.logger.Info("Watching room (Press Ctrl+C to exit)",
		zap.String("url", opts.url),
		zap.Strings("domains", opts.domains),
	)

	<-ctx.Done()
	return nil
}

// printer writes messages as JSON lines, optionally through a jq filter.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	filter *gojq.Code
	logger *zap.Logger
}

func newPrinter(out io.Writer, filter string, logger *zap.Logger) (*printer, error) {
	p := &printer{out: out, logger: logger}
	if filter == "" {
		return p, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	p.filter, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return p, nil
}

func (p *printer) print(msg protocol.Message) {
	record, err := messageRecord(msg)
	if err != nil {
		p.logger.Warn("Failed to convert message", zap.Stringer("tag", msg.Tag()), zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.filter == nil {
		p.writeJSON(record)
		return
	}

	iter := p.filter.Run(record)
	for {
		v, ok := iter.Next()
		if !ok {
			return
		}
		if err, isErr := v.(error); isErr {
			p.logger.Warn("Filter failed", zap.Error(err))
			return
		}
		p.writeJSON(v)
	}
}

func (p *printer) writeJSON(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to encode JSON", zap.Error(err))
		return
	}
	fmt.Fprintf(p.out, "%s\n", line)
}

// messageRecord turns a message into plain JSON values keyed by the wire
// field names.
func messageRecord(msg protocol.Message) (any, error) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}

	var env struct {
		Data any `msgpack:"d"`
	}
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	js, err := json.Marshal(map[string]any{
		"tag":  uint16(msg.Tag()),
		"type": messageType(msg),
		"data": env.Data,
	})
	if err != nil {
		return nil, err
	}

	var record any
	if err := json.Unmarshal(js, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func messageType(msg protocol.Message) string {
	switch msg.(type) {
	case protocol.Connected:
		return "connected"
	case protocol.Pong:
		return "pong"
	case protocol.Error:
		return "error"
	case protocol.Presence:
		return "presence"
	case protocol.Signal:
		return "signal"
	case protocol.Progress:
		return "progress"
	case protocol.ActionOk:
		return "action_ok"
	case protocol.ActionErr:
		return "action_err"
	}

	// Generic messages are named by tag.
	switch msg.Tag() {
	case protocol.TagSnapshot:
		return "snapshot"
	case protocol.TagDelta:
		return "delta"
	case protocol.TagDeltas:
		return "deltas"
	case protocol.TagNotify:
		return "notify"
	default:
		return "unknown"
	}
}
