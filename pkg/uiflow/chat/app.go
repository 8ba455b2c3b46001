// Package chat is a small demo application for the room actor: a shared
// counter, a bounded chat log and typing indicators.
package chat

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/tsarna/uiflow/pkg/uiflow/protocol"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
	"go.uber.org/zap"
)

const (
	DefaultMaxMessages = 100
	MaxMessageLength   = 2000
)

type Tx = room.Tx[Delta, Event]

// AppConfig holds the configuration for creating an App.
type AppConfig struct {
	maxMessages int
}

// NewAppConfig creates an AppConfig keeping DefaultMaxMessages.
func NewAppConfig() *AppConfig {
	return &AppConfig{maxMessages: DefaultMaxMessages}
}

// WithMaxMessages sets how many messages the room keeps.
func (c *AppConfig) WithMaxMessages(n int) *AppConfig {
	c.maxMessages = n
	return c
}

func (c *AppConfig) Build() (*App, error) {
	if c.maxMessages <= 0 {
		return nil, fmt.Errorf("max messages must be positive, got %d", c.maxMessages)
	}
	return &App{maxMessages: c.maxMessages}, nil
}

// App implements room.Application for the chat demo.
type App struct {
	maxMessages int
}

var _ room.Application[State, State, Delta, Event, Action] = (*App)(nil)

func (a *App) NewState() State {
	return State{MaxMessages: a.maxMessages}
}

func (a *App) View(s *State) State {
	v := *s
	v.Messages = slices.Clone(s.Messages)
	return v
}

func (a *App) Join(tx Tx, _ *State, m room.Member) error {
	tx.Emit(Delta{Type: DeltaUserJoined, UserID: m.UserID, UserName: m.UserName})
	return nil
}

func (a *App) Leave(tx Tx, _ *State, m room.Member) error {
	tx.Emit(Delta{Type: DeltaUserLeft, UserID: m.UserID})
	return nil
}

func (a *App) Alarm(Tx, *State) error { return nil }

func (a *App) Handle(tx Tx, s *State, action Action) error {
	origin, ok := tx.Origin()
	if !ok {
		return room.Reject("Action has no sender")
	}

	switch action.Type {
	case ActionIncrement:
		if s.Counter < ^uint64(0) {
			s.Counter++
		}
		tx.Emit(Delta{Type: DeltaCounterChanged, Value: s.Counter})

	case ActionDecrement:
		if s.Counter > 0 {
			s.Counter--
		}
		tx.Emit(Delta{Type: DeltaCounterChanged, Value: s.Counter})

	case ActionSendMessage:
		text := strings.TrimSpace(action.Text)
		if text == "" {
			return room.Reject("Message is empty")
		}
		if utf8.RuneCountInString(text) > MaxMessageLength {
			return room.Rejectf("Message is longer than %d characters", MaxMessageLength)
		}

		msg := Message{
			ID:        tx.NextID(),
			UserID:    origin.UserID,
			UserName:  origin.UserName,
			Text:      text,
			Timestamp: protocol.Millis(tx.Now()),
		}
		s.append(msg)
		tx.Emit(Delta{Type: DeltaMessageAdded, Message: &msg})
		tx.SetResult(msg.ID)
		tx.Logger().Debug("Message posted", zap.Uint64("message_id", msg.ID), zap.String("user_id", origin.UserID))

	case ActionStartTyping:
		tx.Notify(TypingDomain, Event{Type: EventUserTyping, UserID: origin.UserID, UserName: origin.UserName})

	default:
		return room.Rejectf("Unknown action %q", action.Type)
	}
	return nil
}
