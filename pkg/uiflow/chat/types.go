package chat

// Message is a chat line. IDs come from the room's id counter and increase
// in posting order.
type Message struct {
	ID        uint64 `msgpack:"id"`
	UserID    string `msgpack:"user_id"`
	UserName  string `msgpack:"user_name"`
	Text      string `msgpack:"text"`
	Timestamp uint64 `msgpack:"timestamp"`
}

// State is the whole room: a shared counter and the most recent messages.
// It is also the public view.
type State struct {
	Counter     uint64    `msgpack:"counter"`
	Messages    []Message `msgpack:"messages,omitempty"`
	MaxMessages int       `msgpack:"max_messages"`
}

// DeltaType discriminates chat deltas.
type DeltaType string

const (
	DeltaCounterChanged DeltaType = "counter_changed"
	DeltaMessageAdded   DeltaType = "message_added"
	DeltaUserJoined     DeltaType = "user_joined"
	DeltaUserLeft       DeltaType = "user_left"
)

type Delta struct {
	Type     DeltaType `msgpack:"type"`
	Value    uint64    `msgpack:"value,omitempty"`
	Message  *Message  `msgpack:"message,omitempty"`
	UserID   string    `msgpack:"user_id,omitempty"`
	UserName string    `msgpack:"user_name,omitempty"`
}

// EventType discriminates chat notifications.
type EventType string

const (
	EventUserTyping EventType = "user_typing"
)

// TypingDomain carries typing indicators.
const TypingDomain = "typing"

type Event struct {
	Type     EventType `msgpack:"type"`
	UserID   string    `msgpack:"user_id,omitempty"`
	UserName string    `msgpack:"user_name,omitempty"`
}

// ActionType discriminates chat actions.
type ActionType string

const (
	ActionIncrement   ActionType = "increment"
	ActionDecrement   ActionType = "decrement"
	ActionSendMessage ActionType = "send_message"
	ActionStartTyping ActionType = "start_typing"
)

type Action struct {
	Type ActionType `msgpack:"type"`
	Text string     `msgpack:"text,omitempty"`
}

func Increment() Action { return Action{Type: ActionIncrement} }

func Decrement() Action { return Action{Type: ActionDecrement} }

func SendMessage(text string) Action { return Action{Type: ActionSendMessage, Text: text} }

func StartTyping() Action { return Action{Type: ActionStartTyping} }

// ApplyDelta folds d into the state, keeping the message window bounded.
func (s *State) ApplyDelta(d Delta) {
	switch d.Type {
	case DeltaCounterChanged:
		s.Counter = d.Value
	case DeltaMessageAdded:
		if d.Message != nil {
			s.append(*d.Message)
		}
	}
}

func (s *State) append(m Message) {
	s.Messages = append(s.Messages, m)
	if s.MaxMessages > 0 && len(s.Messages) > s.MaxMessages {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-s.MaxMessages:]...)
	}
}
