// Package media wraps the local real-time media stack behind the Adapter
// interface: streams, send/receive state, and SDP offer/answer exchange.
// The call controller only ever talks to Adapter; the pion-backed Engine
// in this package is the default implementation.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Facing modes for video capture.
const (
	FacingModeUser        = "user"
	FacingModeEnvironment = "environment"
)

var (
	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("media adapter closed")
	// ErrNoLocalStream is returned when an operation needs a local stream
	// and none has been captured or set.
	ErrNoLocalStream = errors.New("no local stream")
)

// VideoConstraint describes the requested video capture. FacingMode may be
// empty when the caller does not care which camera is used.
type VideoConstraint struct {
	Enabled    bool
	FacingMode string
}

// Constraints describe the requested local media.
type Constraints struct {
	Audio bool
	Video VideoConstraint
}

// Stream is a handle on a local or remote media stream. FacingMode is
// carried over from the capture constraints and may be empty when the
// source did not report one.
type Stream struct {
	ID         string
	Audio      bool
	Video      bool
	FacingMode string
}

// ObjectURL is a revocable display URL minted for a stream. The call
// controller keeps one per stream and revokes it whenever the underlying
// stream reference changes or the call ends.
type ObjectURL struct {
	mu      sync.Mutex
	url     string
	revoked bool
}

// NewObjectURL mints a fresh display URL for the stream.
func NewObjectURL(s *Stream) *ObjectURL {
	return &ObjectURL{url: fmt.Sprintf("stream:%s/%s", s.ID, uuid.NewString())}
}

// URL returns the display URL, or the empty string once revoked.
func (u *ObjectURL) URL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.revoked {
		return ""
	}
	return u.url
}

// Revoke releases the URL. Safe to call more than once.
func (u *ObjectURL) Revoke() {
	u.mu.Lock()
	u.revoked = true
	u.mu.Unlock()
}

// Change field names delivered through Adapter change notifications.
const (
	FieldSendingAudio   = "sendingAudio"
	FieldSendingVideo   = "sendingVideo"
	FieldReceivingAudio = "receivingAudio"
	FieldReceivingVideo = "receivingVideo"
	FieldLocalStream    = "localStream"
	FieldRemoteStream   = "remoteStream"
)

// Change is one local media-state change notification.
type Change struct {
	Field string
}

// Adapter is the surface the call controller needs from the media stack.
// Callback registrations return an explicit cancel so the controller can
// release everything it attached in a single teardown batch.
type Adapter interface {
	// CreateOffer produces a local session description for negotiation.
	CreateOffer(ctx context.Context) (string, error)
	// AcceptAnswer applies the remote session description that completes
	// a negotiation round.
	AcceptAnswer(sdp string) error

	// CaptureStream acquires a fresh local stream for the constraints.
	CaptureStream(c Constraints) (*Stream, error)
	LocalStream() *Stream
	RemoteStream() *Stream
	// SetLocalStream hot-swaps the local stream mid-call and triggers
	// renegotiation.
	SetLocalStream(s *Stream) error

	Constraints() Constraints

	SendingAudio() bool
	SendingVideo() bool
	ReceivingAudio() bool
	ReceivingVideo() bool
	SetSendingAudio(enabled bool)
	SetSendingVideo(enabled bool)
	SetReceivingAudio(enabled bool)
	SetReceivingVideo(enabled bool)

	OnNegotiationNeeded(fn func()) (cancel func())
	OnChange(fn func(Change)) (cancel func())
	OnError(fn func(error)) (cancel func())

	Close() error
}
