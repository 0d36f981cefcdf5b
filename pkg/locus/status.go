package locus

// Status is the derived lifecycle phase of a call. It is always computed
// from a locus snapshot plus the joined-on-this-device flag, never set
// directly by lifecycle operations.
type Status int

const (
	// StatusInitiated indicates the call exists but neither ringing nor
	// connection has been observed yet.
	StatusInitiated Status = iota
	// StatusRinging indicates the remote side is being alerted.
	StatusRinging
	// StatusConnected indicates both parties are joined.
	StatusConnected
	// StatusDisconnected indicates the call is over. Terminal.
	StatusDisconnected
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusRinging:
		return "ringing"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the call can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusDisconnected
}

// DeriveStatus computes the call status from a locus snapshot and whether
// this device has joined. The evaluation order matters: connectedness is
// checked before left/declined so a call that reconnects after a transient
// drop is not misreported as disconnected.
func DeriveStatus(l *Locus, joinedOnThisDevice bool) Status {
	if l == nil {
		return StatusInitiated
	}
	remote := l.Remote()

	if joinedOnThisDevice && remote != nil && remote.State == StateJoined {
		return StatusConnected
	}

	if l.Self != nil && remote != nil {
		switch {
		case l.Self.State == StateLeft || remote.State == StateLeft:
			return StatusDisconnected
		case remote.State == StateDeclined:
			return StatusDisconnected
		case remote.State == StateNotified:
			return StatusRinging
		}
	}

	return StatusInitiated
}

// DirectionStatus maps a sending/receiving flag pair onto the direction
// string the service reports in MediaStatus.
func DirectionStatus(sending, receiving bool) string {
	switch {
	case sending && receiving:
		return "sendrecv"
	case sending:
		return "sendonly"
	case receiving:
		return "recvonly"
	default:
		return "inactive"
	}
}
