package protocol

// SignalKind discriminates peer signalling payloads.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice_candidate"
)

// SignalPayload is an opaque WebRTC negotiation message. Offer and Answer use
// SDP; IceCandidate uses Candidate and the optional media line fields.
type SignalPayload struct {
	Kind          SignalKind `msgpack:"kind"`
	SDP           string     `msgpack:"sdp,omitempty"`
	Candidate     string     `msgpack:"candidate,omitempty"`
	SDPMid        *string    `msgpack:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16    `msgpack:"sdp_m_line_index,omitempty"`
}

// Offer builds an SDP offer payload.
func Offer(sdp string) SignalPayload {
	return SignalPayload{Kind: SignalOffer, SDP: sdp}
}

// Answer builds an SDP answer payload.
func Answer(sdp string) SignalPayload {
	return SignalPayload{Kind: SignalAnswer, SDP: sdp}
}

// IceCandidate builds an ICE candidate payload.
func IceCandidate(candidate string, sdpMid *string, sdpMLineIndex *uint16) SignalPayload {
	return SignalPayload{
		Kind:          SignalIceCandidate,
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}
}

// IsValid reports whether the payload carries the fields its kind requires.
func (s SignalPayload) IsValid() bool {
	switch s.Kind {
	case SignalOffer, SignalAnswer:
		return s.SDP != ""
	case SignalIceCandidate:
		return s.Candidate != ""
	default:
		return false
	}
}
