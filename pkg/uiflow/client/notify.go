package client

// NoState is the snapshot type of a room that keeps no synchronized state.
type NoState struct{}

// NoDelta is the delta type of a room that keeps no synchronized state.
type NoDelta struct{}

// NewNotifyClient creates a builder for a client that only exchanges actions,
// notifications, presence and signals.
func NewNotifyClient[E, A any]() *ClientBuilder[NoState, NoDelta, E, A] {
	return NewClient[NoState, NoDelta, E, A]()
}
