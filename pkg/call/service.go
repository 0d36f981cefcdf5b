package call

import (
	"context"

	"github.com/rescp17/callKit/pkg/locus"
)

// JoinRequest carries the local side of a join round trip: the media offer
// and the correlation identifier that lets the client recognize its own
// device record in the session the service returns.
type JoinRequest struct {
	OfferSDP      string
	CorrelationID string
	DeviceURL     string
}

// MediaUpdate pushes either a new offer (renegotiation) or updated mute
// flags (no offer) for an established media session.
type MediaUpdate struct {
	MediaID     string
	OfferSDP    string
	AudioStatus string
	VideoStatus string
	DeviceURL   string
}

// SessionService is the remote call-session API the controller consumes.
// Transport and wire format live behind this interface; the api package
// provides the default HTTP implementation.
type SessionService interface {
	Create(ctx context.Context, invitee string, req JoinRequest) (*locus.Locus, error)
	Join(ctx context.Context, l *locus.Locus, req JoinRequest) (*locus.Locus, error)
	Get(ctx context.Context, l *locus.Locus) (*locus.Locus, error)
	Leave(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error)
	Decline(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error)
	Alert(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error)
	UpdateMedia(ctx context.Context, l *locus.Locus, upd MediaUpdate) (*locus.Locus, error)
}

// DeviceInfo identifies this client's registered device.
type DeviceInfo struct {
	URL string
}

// Registrar ensures the client has a device registration before it joins
// a session. Register is idempotent: repeat calls return the same device.
type Registrar interface {
	Register(ctx context.Context) (DeviceInfo, error)
}

// MetricsCollector receives opaque call-quality feedback payloads.
type MetricsCollector interface {
	Submit(ctx context.Context, payload any) error
}
