// Package locus models the server-held call-session document ("locus"):
// the participants of a call, their join/leave/media state, and the
// device bindings that tie a media connection to one client.
//
// A Locus is an immutable snapshot. The call controller replaces its
// snapshot wholesale on every accepted update; nothing in this package
// mutates a Locus after it has been decoded.
package locus

// ParticipantState is the join/leave state the service reports for a
// participant (or one of its devices).
type ParticipantState string

const (
	// StateIdle indicates the participant is known but has not been alerted.
	StateIdle ParticipantState = "IDLE"
	// StateNotified indicates the participant's devices are alerting.
	StateNotified ParticipantState = "NOTIFIED"
	// StateJoined indicates the participant is in the call.
	StateJoined ParticipantState = "JOINED"
	// StateLeft indicates the participant has left the call.
	StateLeft ParticipantState = "LEFT"
	// StateDeclined indicates the participant rejected the call.
	StateDeclined ParticipantState = "DECLINED"
)

// Direction says which side initiated the call.
type Direction string

const (
	DirectionIncoming Direction = "in"
	DirectionOutgoing Direction = "out"
)

// Sequence orders locus snapshots. Value increases with every change the
// service applies; Base is the oldest sequence the snapshot's delta builds
// on, letting a client detect that it missed intermediate updates.
type Sequence struct {
	Value int64 `json:"value"`
	Base  int64 `json:"base"`
}

// MediaConnection is the device-specific media descriptor inside a locus:
// the media session identifier plus the remote session description the
// client needs to complete offer/answer negotiation.
type MediaConnection struct {
	MediaID   string `json:"mediaId"`
	Type      string `json:"type"`
	RemoteSDP string `json:"remoteSdp"`
}

// Device is one client binding of a participant. CorrelationID ties a
// locally initiated join to the device record the service created for it.
type Device struct {
	URL              string            `json:"url"`
	DeviceType       string            `json:"deviceType"`
	CorrelationID    string            `json:"correlationId"`
	State            ParticipantState  `json:"state"`
	MediaConnections []MediaConnection `json:"mediaConnections,omitempty"`
}

// MediaStatus carries the service's view of a participant's media
// directions as sendrecv/sendonly/recvonly/inactive strings.
type MediaStatus struct {
	AudioStatus string `json:"audioStatus"`
	VideoStatus string `json:"videoStatus"`
}

// Participant is one party of the call as the service sees it.
type Participant struct {
	ID        string           `json:"id"`
	IsCreator bool             `json:"isCreator"`
	State     ParticipantState `json:"state"`
	Devices   []Device         `json:"devices,omitempty"`
	Status    MediaStatus      `json:"status"`
}

// Locus is one snapshot of the call-session document.
type Locus struct {
	URL          string         `json:"url"`
	Sequence     Sequence       `json:"sequence"`
	Self         *Participant   `json:"self,omitempty"`
	Participants []*Participant `json:"participants,omitempty"`
}

// Remote returns the other party of the call: the first participant whose
// identity differs from Self. Nil when the snapshot has no such record.
func (l *Locus) Remote() *Participant {
	if l == nil {
		return nil
	}
	for _, p := range l.Participants {
		if l.Self == nil || p.ID != l.Self.ID {
			return p
		}
	}
	return nil
}

// Direction derives the call direction from the snapshot: outgoing when
// self created the locus, incoming otherwise. With no snapshot (or no self
// record yet) the call defaults to outgoing.
func (l *Locus) Direction() Direction {
	if l == nil || l.Self == nil {
		return DirectionOutgoing
	}
	if l.Self.IsCreator {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// DeviceByURL finds self's device record with the given URL.
func (l *Locus) DeviceByURL(url string) *Device {
	if l == nil || l.Self == nil || url == "" {
		return nil
	}
	for i := range l.Self.Devices {
		if l.Self.Devices[i].URL == url {
			return &l.Self.Devices[i]
		}
	}
	return nil
}

// DeviceByCorrelation finds self's device record carrying the given
// correlation identifier.
func (l *Locus) DeviceByCorrelation(correlationID string) *Device {
	if l == nil || l.Self == nil || correlationID == "" {
		return nil
	}
	for i := range l.Self.Devices {
		if l.Self.Devices[i].CorrelationID == correlationID {
			return &l.Self.Devices[i]
		}
	}
	return nil
}

// JoinedOnDevice reports whether this client, identified by its correlation
// identifier, has joined the call: self must be joined and the matching
// device record must itself be in the joined state.
func (l *Locus) JoinedOnDevice(correlationID string) bool {
	if l == nil || l.Self == nil || l.Self.State != StateJoined {
		return false
	}
	d := l.DeviceByCorrelation(correlationID)
	return d != nil && d.State == StateJoined
}

// MediaLinkFor resolves the media connection bound to this client's device
// record. Nil when the device is unknown or carries no media connection.
func (l *Locus) MediaLinkFor(correlationID string) *MediaConnection {
	d := l.DeviceByCorrelation(correlationID)
	if d == nil || len(d.MediaConnections) == 0 {
		return nil
	}
	return &d.MediaConnections[0]
}
