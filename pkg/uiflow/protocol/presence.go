package protocol

import "time"

// PresenceStatus is a user's activity level.
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
	PresenceAway   PresenceStatus = "away"
)

// PresenceInfo describes one live user.
type PresenceInfo struct {
	UserID      string         `msgpack:"user_id"`
	Name        *string        `msgpack:"name,omitempty"`
	Status      PresenceStatus `msgpack:"status"`
	ConnectedAt uint64         `msgpack:"connected_at"`
}

// DisplayName returns the name if set, otherwise the user id.
func (p PresenceInfo) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.UserID
}

// Millis converts a time to unix milliseconds as used in timestamps on the wire.
func Millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// NowMillis returns the current time in unix milliseconds.
func NowMillis() uint64 {
	return Millis(time.Now())
}
