package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// EngineConfig holds the configuration for creating an Engine.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
}

// Engine is the pion-backed Adapter implementation. One Engine wraps one
// PeerConnection for the lifetime of a call.
type Engine struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection

	constraints Constraints
	local       *Stream
	remote      *Stream

	sendingAudio   bool
	sendingVideo   bool
	receivingAudio bool
	receivingVideo bool

	closed bool

	nextID      int
	negotiation map[int]func()
	changes     map[int]func(Change)
	errs        map[int]func(error)
}

// NewEngine creates a peer connection with audio/video transceivers per
// the constraints. Using a dedicated webrtc.API keeps setting-engine state
// isolated when an application runs several calls.
func NewEngine(cfg EngineConfig, c Constraints) (*Engine, error) {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs: []string{"stun:stun.l.google.com:19302"},
		})
	}

	settings := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &Engine{
		pc:             pc,
		constraints:    c,
		sendingAudio:   c.Audio,
		sendingVideo:   c.Video.Enabled,
		receivingAudio: c.Audio,
		receivingVideo: c.Video.Enabled,
		negotiation:    make(map[int]func()),
		changes:        make(map[int]func(Change)),
		errs:           make(map[int]func(error)),
	}

	if c.Audio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}
	if c.Video.Enabled {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}

	pc.OnNegotiationNeeded(func() {
		e.fireNegotiationNeeded()
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "media").Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed {
			e.fireError(errors.New("ice connection failed"))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("module", "media").
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track arrived")
		e.mu.Lock()
		if e.remote == nil || e.remote.ID != track.StreamID() {
			e.remote = &Stream{ID: track.StreamID()}
		}
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			e.remote.Audio = true
		case webrtc.RTPCodecTypeVideo:
			e.remote.Video = true
		}
		e.mu.Unlock()
		e.fireChange(Change{Field: FieldRemoteStream})
	})

	return e, nil
}

func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	pc := e.pc
	e.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

func (e *Engine) AcceptAnswer(sdp string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	pc := e.pc
	e.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// CaptureStream acquires a fresh local stream for the constraints. Track
// sourcing (capture devices) sits behind this seam; the stream handle is
// what the rest of the SDK tracks.
func (e *Engine) CaptureStream(c Constraints) (*Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return &Stream{
		ID:         uuid.NewString(),
		Audio:      c.Audio,
		Video:      c.Video.Enabled,
		FacingMode: c.Video.FacingMode,
	}, nil
}

func (e *Engine) LocalStream() *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *Engine) RemoteStream() *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

func (e *Engine) SetLocalStream(s *Stream) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.local = s
	e.mu.Unlock()

	e.fireChange(Change{Field: FieldLocalStream})
	e.fireNegotiationNeeded()
	return nil
}

func (e *Engine) Constraints() Constraints {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.constraints
}

func (e *Engine) SendingAudio() bool   { e.mu.Lock(); defer e.mu.Unlock(); return e.sendingAudio }
func (e *Engine) SendingVideo() bool   { e.mu.Lock(); defer e.mu.Unlock(); return e.sendingVideo }
func (e *Engine) ReceivingAudio() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.receivingAudio }
func (e *Engine) ReceivingVideo() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.receivingVideo }

func (e *Engine) SetSendingAudio(enabled bool) {
	e.setFlag(&e.sendingAudio, enabled, FieldSendingAudio)
}

func (e *Engine) SetSendingVideo(enabled bool) {
	e.setFlag(&e.sendingVideo, enabled, FieldSendingVideo)
}

func (e *Engine) SetReceivingAudio(enabled bool) {
	e.setFlag(&e.receivingAudio, enabled, FieldReceivingAudio)
}

func (e *Engine) SetReceivingVideo(enabled bool) {
	e.setFlag(&e.receivingVideo, enabled, FieldReceivingVideo)
}

// setFlag updates one direction flag and notifies listeners. Flag changes
// never request renegotiation: mute state rides the media-update round
// trip as status strings, not as a new offer. Only a stream swap
// (SetLocalStream) forces a fresh negotiation.
func (e *Engine) setFlag(flag *bool, enabled bool, field string) {
	e.mu.Lock()
	if e.closed || *flag == enabled {
		e.mu.Unlock()
		return
	}
	*flag = enabled
	e.mu.Unlock()

	e.fireChange(Change{Field: field})
}

func (e *Engine) OnNegotiationNeeded(fn func()) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.negotiation[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.negotiation, id)
		e.mu.Unlock()
	}
}

func (e *Engine) OnChange(fn func(Change)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.changes[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.changes, id)
		e.mu.Unlock()
	}
}

func (e *Engine) OnError(fn func(error)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.errs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.errs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.local = nil
	e.remote = nil
	pc := e.pc
	e.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("peer connection close error")
			return err
		}
	}
	return nil
}

// fireNegotiationNeeded invokes listeners outside the lock; handlers call
// back into the engine.
func (e *Engine) fireNegotiationNeeded() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.negotiation))
	for _, fn := range e.negotiation {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) fireError(err error) {
	e.mu.Lock()
	fns := make([]func(error), 0, len(e.errs))
	for _, fn := range e.errs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Engine) fireChange(c Change) {
	e.mu.Lock()
	fns := make([]func(Change), 0, len(e.changes))
	for _, fn := range e.changes {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

var _ Adapter = (*Engine)(nil)
