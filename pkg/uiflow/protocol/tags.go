package protocol

import "fmt"

// Tag identifies an envelope variant on the wire. Tags are grouped in bands of
// one thousand so new categories can be added without disturbing old decoders.
type Tag uint16

// ProtocolVersion is sent to clients in the Connected message.
const ProtocolVersion = 1

// Server to client tags.
const (
	TagConnected Tag = 0 // Connection acknowledged
	TagPong      Tag = 1 // Keepalive reply
	TagError     Tag = 2 // Server error, possibly fatal

	TagSnapshot Tag = 1000 // Full state
	TagDelta    Tag = 1001 // Single incremental change
	TagDeltas   Tag = 1002 // Ordered batch of changes

	TagPresence Tag = 2000 // Live roster

	TagSignal Tag = 3000 // Relayed peer signalling payload

	TagNotify Tag = 4000 // Domain-scoped application event

	TagProgress  Tag = 5000 // Operation progress
	TagActionOk  Tag = 5001 // Operation succeeded
	TagActionErr Tag = 5002 // Operation failed
)

// Client to server tags.
const (
	TagPing   Tag = 0 // Keepalive
	TagResync Tag = 1 // Request a fresh snapshot

	TagAction Tag = 1000 // Application action

	TagSubscribe   Tag = 2000 // Add notification domains
	TagUnsubscribe Tag = 2001 // Remove notification domains

	TagSignalTo Tag = 3000 // Peer signalling payload for another user
)

// Band is the category a tag belongs to.
type Band uint16

const (
	BandLifecycle Band = iota
	BandStateSync
	BandPresence
	BandSignalling
	BandNotification
	BandActionFeedback
	BandUnknown
)

// Band returns the category of the tag.
func (t Tag) Band() Band {
	b := Band(t / 1000)
	if b >= BandUnknown {
		return BandUnknown
	}
	return b
}

func (b Band) String() string {
	switch b {
	case BandLifecycle:
		return "lifecycle"
	case BandStateSync:
		return "state-sync"
	case BandPresence:
		return "presence"
	case BandSignalling:
		return "signalling"
	case BandNotification:
		return "notification"
	case BandActionFeedback:
		return "action-feedback"
	default:
		return "unknown"
	}
}

func (t Tag) String() string {
	return fmt.Sprintf("%d(%s)", uint16(t), t.Band())
}
