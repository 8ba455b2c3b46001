package room

import (
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// User identifies who is behind a connection.
type User struct {
	ID   string
	Name string
}

// UserFromRequest reads the user_id and user_name query parameters. A missing
// id becomes user_<8 hex digits> and a missing name "User <first 8 chars of
// the id>".
func UserFromRequest(r *http.Request) User {
	q := r.URL.Query()

	id := strings.TrimSpace(q.Get("user_id"))
	if id == "" {
		id = "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	name := strings.TrimSpace(q.Get("user_name"))
	if name == "" {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		name = "User " + short
	}

	return User{ID: id, Name: name}
}

// Member is a live connection as seen by an application.
type Member struct {
	ConnectionID string
	UserID       string
	UserName     string
	ConnectedAt  time.Time
}

// Peer is the outbound side of a connection. Send must not block; it reports
// false when the frame was dropped.
type Peer interface {
	Send(data []byte) bool
	Close(code websocket.StatusCode, reason string)
}

// member is the room's bookkeeping for one connection.
type member struct {
	Member
	peer          Peer
	subscriptions []string
}
