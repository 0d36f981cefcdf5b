// Package call implements the Call controller: one value per active or
// pending call, merging remote session snapshots with local media state
// into a derived status machine that consumers observe through events.
//
// The controller owns its session snapshot exclusively. Snapshots are
// replaced wholesale through the reconciliation rule, never merged field
// by field, so derived values are always computed from one coherent
// document.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/rescp17/callKit/pkg/concurrency"
	"github.com/rescp17/callKit/pkg/locus"
	"github.com/rescp17/callKit/pkg/media"
)

var (
	// ErrInvalidOperation is returned for operations that are not valid in
	// the call's current configuration, e.g. a facing-mode toggle on an
	// audio-only call.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrJoinInFlight is returned when a join round trip is already
	// outstanding for this call.
	ErrJoinInFlight = errors.New("join already in flight")
	// ErrNoMediaLink is returned when the adopted session carries no media
	// connection for this device.
	ErrNoMediaLink = errors.New("no media connection for this device")
	// ErrMediaStatusMismatch indicates the authoritative session does not
	// yet reflect a just-applied media update.
	ErrMediaStatusMismatch = errors.New("session media status does not match expected")
	// ErrNoSession is returned by operations that need a session snapshot
	// before one exists.
	ErrNoSession = errors.New("no session")
	// ErrNoMetrics is returned by SendFeedback when no collector is wired.
	ErrNoMetrics = errors.New("no metrics collector configured")
	// ErrCallEnded is delivered to operations still waiting on the call
	// when it is torn down underneath them.
	ErrCallEnded = errors.New("call has ended")
)

const (
	defaultPollAttempts = 4
	defaultDebounce     = 100 * time.Millisecond
)

// Options wires a Call to its collaborators. Service and Media are
// required; everything else has a default.
type Options struct {
	Service    SessionService
	Registrar  Registrar
	Media      media.Adapter
	Comparator locus.Comparator
	Metrics    MetricsCollector
	Logger     *zerolog.Logger

	// PollAttempts bounds the eventual-consistency polling after a media
	// update.
	PollAttempts int
	// RenegotiateDebounce is the window that collapses a burst of
	// negotiation-needed signals into one round trip.
	RenegotiateDebounce time.Duration
}

// JoinOptions customize how a call acquires local media: an explicit
// stream to use as-is, or capture constraints.
type JoinOptions struct {
	Stream      *media.Stream
	Constraints *media.Constraints
}

type joinAction int

const (
	actionCreate joinAction = iota
	actionJoin
)

// Call models one active or pending call.
type Call struct {
	svc        SessionService
	registrar  Registrar
	media      media.Adapter
	comparator locus.Comparator
	metrics    MetricsCollector
	log        zerolog.Logger

	pollAttempts int
	events       *emitter
	debounce     *concurrency.Debouncer
	joinGuard    concurrency.Guard
	leave        concurrency.OnceFlight
	mediaGate    concurrency.SerialGate

	mu            sync.Mutex
	correlationID string
	device        DeviceInfo
	locus         *locus.Locus
	direction     locus.Direction
	status        locus.Status
	mediaLink     *locus.MediaConnection
	facing        string
	localStream   *media.Stream
	remoteStream  *media.Stream
	localURL      *media.ObjectURL
	remoteURL     *media.ObjectURL
	joinDone      chan struct{}
	renegWaiters  []chan error
	cancels       []func()
	torndown      bool
}

// New creates a Call in the initiated state and attaches it to the media
// adapter's notifications.
func New(opts Options) (*Call, error) {
	if opts.Service == nil {
		return nil, errors.New("call: session service is required")
	}
	if opts.Media == nil {
		return nil, errors.New("call: media adapter is required")
	}
	if opts.Comparator == nil {
		opts.Comparator = locus.SequenceComparator{}
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaultPollAttempts
	}
	if opts.RenegotiateDebounce <= 0 {
		opts.RenegotiateDebounce = defaultDebounce
	}
	logger := zlog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Call{
		svc:          opts.Service,
		registrar:    opts.Registrar,
		media:        opts.Media,
		comparator:   opts.Comparator,
		metrics:      opts.Metrics,
		log:          logger,
		pollAttempts: opts.PollAttempts,
		events:       newEmitter(),
		debounce:     concurrency.NewDebouncer(opts.RenegotiateDebounce),
		direction:    locus.DirectionOutgoing,
		status:       locus.StatusInitiated,
	}

	cancelNeg := c.media.OnNegotiationNeeded(func() {
		c.debounce.Trigger(func() {
			if err := c.renegotiate(context.Background()); err != nil {
				c.emitError(fmt.Errorf("renegotiation failed: %w", err))
			}
		})
	})
	cancelChg := c.media.OnChange(c.onMediaChange)
	cancelErr := c.media.OnError(func(err error) {
		c.emitError(err)
	})
	c.cancels = append(c.cancels, cancelNeg, cancelChg, cancelErr)

	return c, nil
}

// NewIncoming creates a Call for an inbound session notification and
// adopts the notifying snapshot.
func NewIncoming(opts Options, incoming *locus.Locus) (*Call, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := c.HandleSessionUpdate(context.Background(), incoming); err != nil {
		return nil, err
	}
	return c, nil
}

// On registers a handler for an event type and returns its subscription
// handle. All handles are closed as a batch during teardown.
func (c *Call) On(t EventType, h Handler) *Subscription {
	return c.events.on(t, h)
}

// Status returns the current derived lifecycle status.
func (c *Call) Status() locus.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Direction returns the derived call direction.
func (c *Call) Direction() locus.Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// CorrelationID returns the identifier correlating this client's join
// with its device record in the session document.
func (c *Call) CorrelationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correlationID
}

// Session returns the latest adopted session snapshot, nil before any
// snapshot has been adopted.
func (c *Call) Session() *locus.Locus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locus
}

// LocalStreamURL returns the display URL for the local stream, empty when
// no stream is attached or the call has ended.
func (c *Call) LocalStreamURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localURL == nil {
		return ""
	}
	return c.localURL.URL()
}

// RemoteStreamURL returns the display URL for the remote stream.
func (c *Call) RemoteStreamURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteURL == nil {
		return ""
	}
	return c.remoteURL.URL()
}

// SendingAudio reports whether local audio is being sent.
func (c *Call) SendingAudio() bool { return c.media.SendingAudio() }

// SendingVideo reports whether local video is being sent.
func (c *Call) SendingVideo() bool { return c.media.SendingVideo() }

// ReceivingAudio reports whether inbound audio is being handled.
func (c *Call) ReceivingAudio() bool { return c.media.ReceivingAudio() }

// ReceivingVideo reports whether inbound video is being handled.
func (c *Call) ReceivingVideo() bool { return c.media.ReceivingVideo() }

// HandleSessionUpdate feeds an incoming session snapshot (pushed or
// polled) through the reconciliation rule.
func (c *Call) HandleSessionUpdate(ctx context.Context, incoming *locus.Locus) error {
	return c.applyLocus(ctx, incoming)
}

// ConsumeUpdates forwards snapshots from ch into the reconciliation loop
// until cancel is invoked. The cancel is registered with the call and runs
// during teardown, detaching the subscription.
func (c *Call) ConsumeUpdates(ch <-chan *locus.Locus, cancel func()) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	go func() {
		for l := range ch {
			if err := c.HandleSessionUpdate(context.Background(), l); err != nil {
				c.emitError(err)
			}
		}
	}()
}

// Dial starts an outbound call to target. The target is either a plain
// address or an encoded reference ("ref:" prefix) that is decoded to an
// identity first. Dial is fire-and-forget: failures surface as error
// events, not as a returned error.
func (c *Call) Dial(ctx context.Context, target string, opts JoinOptions) {
	address, err := ResolveTarget(target)
	if err != nil {
		c.emitError(fmt.Errorf("failed to resolve target: %w", err))
		return
	}

	if c.registrar != nil {
		dev, err := c.registrar.Register(ctx)
		if err != nil {
			c.emitError(fmt.Errorf("device registration failed: %w", err))
			return
		}
		c.mu.Lock()
		c.device = dev
		c.mu.Unlock()
	}

	if err := c.join(ctx, actionCreate, address, opts); err != nil {
		c.emitError(err)
	}
}

// Answer joins an inbound call on this device. It is a no-op for outbound
// calls and for calls already joined here with a live media link.
func (c *Call) Answer(ctx context.Context) error {
	c.mu.Lock()
	dir := c.direction
	joined := c.locus.JoinedOnDevice(c.correlationID)
	link := c.mediaLink
	c.mu.Unlock()

	if dir == locus.DirectionOutgoing {
		return nil
	}
	if joined && link != nil {
		return nil
	}
	return c.join(ctx, actionJoin, "", JoinOptions{})
}

// Acknowledge notifies the remote side that this device is alerting,
// without joining.
func (c *Call) Acknowledge(ctx context.Context) error {
	c.mu.Lock()
	l := c.locus
	dev := c.device
	c.mu.Unlock()
	if l == nil {
		return ErrNoSession
	}
	if dev.URL == "" && c.registrar != nil {
		d, err := c.registrar.Register(ctx)
		if err != nil {
			return fmt.Errorf("device registration failed: %w", err)
		}
		c.mu.Lock()
		c.device = d
		c.mu.Unlock()
		dev = d
	}
	res, err := c.svc.Alert(ctx, l, dev.URL)
	if err != nil {
		return fmt.Errorf("alert failed: %w", err)
	}
	return c.applyLocus(ctx, res)
}

// Hangup ends the call. Local media is released before any round trip, so
// a failed leave still tears the call down locally; the round-trip error
// is returned so callers can observe it. Concurrent hangups collapse into
// one leave execution sharing the same outcome.
func (c *Call) Hangup(ctx context.Context) error {
	c.mu.Lock()
	dir := c.direction
	l := c.locus
	joined := l.JoinedOnDevice(c.correlationID)
	joinDone := c.joinDone
	dev := c.device
	c.mu.Unlock()

	if dir == locus.DirectionIncoming && !joined {
		return c.Reject(ctx)
	}

	c.stopLocalMedia()

	if l == nil {
		if joinDone != nil {
			// A join is outstanding; its session update must land first.
			// The join may also have registered the device, so both are
			// re-read once it settles.
			select {
			case <-joinDone:
			case <-ctx.Done():
				return ctx.Err()
			}
			c.mu.Lock()
			l = c.locus
			dev = c.device
			c.mu.Unlock()
		}
		if l == nil {
			c.teardown()
			return nil
		}
	}

	return c.leave.Do(func() error {
		res, err := c.svc.Leave(ctx, l, dev.URL)
		if err != nil {
			c.teardown()
			return fmt.Errorf("leave failed: %w", err)
		}
		if err := c.applyLocus(ctx, res); err != nil {
			c.log.Warn().Err(err).Str("module", "call").Msg("reconcile after leave failed")
		}
		c.teardown()
		return nil
	})
}

// Reject declines an inbound call. No-op for outbound calls.
func (c *Call) Reject(ctx context.Context) error {
	c.mu.Lock()
	dir := c.direction
	l := c.locus
	dev := c.device
	c.mu.Unlock()

	if dir == locus.DirectionOutgoing {
		return nil
	}

	c.stopLocalMedia()

	if l == nil {
		c.teardown()
		return nil
	}
	res, err := c.svc.Decline(ctx, l, dev.URL)
	if err != nil {
		c.teardown()
		return fmt.Errorf("decline failed: %w", err)
	}
	if err := c.applyLocus(ctx, res); err != nil {
		c.log.Warn().Err(err).Str("module", "call").Msg("reconcile after decline failed")
	}
	c.teardown()
	return nil
}

// SendFeedback passes an opaque feedback payload to the metrics collector.
func (c *Call) SendFeedback(ctx context.Context, payload any) error {
	if c.metrics == nil {
		return ErrNoMetrics
	}
	return c.metrics.Submit(ctx, payload)
}

// ResolveTarget decodes a dial target. A plain address passes through; an
// encoded reference ("ref:" + base64 JSON) is decoded to its address.
func ResolveTarget(target string) (string, error) {
	const refPrefix = "ref:"
	if !strings.HasPrefix(target, refPrefix) {
		return target, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(target, refPrefix))
	if err != nil {
		return "", fmt.Errorf("malformed target reference: %w", err)
	}
	var ref struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("malformed target reference: %w", err)
	}
	if ref.Address == "" {
		return "", errors.New("target reference has no address")
	}
	return ref.Address, nil
}

// join performs the shared join workflow: acquire local media, create an
// offer, submit it under the given action, reconcile the returned
// session, and complete the media handshake from the matched media link.
// At most one join round trip may be outstanding per call; a concurrent
// attempt fails with ErrJoinInFlight. joinDone lets a racing hangup wait
// for the outstanding join's session to land.
func (c *Call) join(ctx context.Context, action joinAction, invitee string, opts JoinOptions) error {
	err := c.joinGuard.Execute(func() error {
		return c.runJoin(ctx, action, invitee, opts)
	})
	if errors.Is(err, concurrency.ErrBusy) {
		return ErrJoinInFlight
	}
	return err
}

func (c *Call) runJoin(ctx context.Context, action joinAction, invitee string, opts JoinOptions) error {
	done := make(chan struct{})
	c.mu.Lock()
	c.joinDone = done
	if c.correlationID == "" {
		c.correlationID = uuid.NewString()
	}
	corr := c.correlationID
	cur := c.locus
	dev := c.device
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.joinDone = nil
		c.mu.Unlock()
		close(done)
	}()

	if dev.URL == "" && c.registrar != nil {
		d, err := c.registrar.Register(ctx)
		if err != nil {
			return fmt.Errorf("device registration failed: %w", err)
		}
		c.mu.Lock()
		c.device = d
		c.mu.Unlock()
		dev = d
	}

	constraints := buildConstraints(opts, action == actionCreate)
	if opts.Stream != nil {
		if err := c.media.SetLocalStream(opts.Stream); err != nil {
			return fmt.Errorf("failed to attach stream: %w", err)
		}
	} else if c.media.LocalStream() == nil {
		s, err := c.media.CaptureStream(constraints)
		if err != nil {
			return fmt.Errorf("failed to capture local media: %w", err)
		}
		if err := c.media.SetLocalStream(s); err != nil {
			return fmt.Errorf("failed to attach stream: %w", err)
		}
	}
	if s := c.media.LocalStream(); s != nil {
		c.mu.Lock()
		c.facing = s.FacingMode
		c.mu.Unlock()
	}

	offer, err := c.media.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	req := JoinRequest{OfferSDP: offer, CorrelationID: corr, DeviceURL: dev.URL}
	var result *locus.Locus
	switch action {
	case actionCreate:
		result, err = c.svc.Create(ctx, invitee, req)
	case actionJoin:
		result, err = c.svc.Join(ctx, cur, req)
	}
	if err != nil {
		return fmt.Errorf("join round trip failed: %w", err)
	}

	if err := c.applyLocus(ctx, result); err != nil {
		return err
	}

	c.mu.Lock()
	link := c.mediaLink
	c.mu.Unlock()
	if link == nil {
		return ErrNoMediaLink
	}
	if err := c.media.AcceptAnswer(link.RemoteSDP); err != nil {
		return fmt.Errorf("failed to accept answer: %w", err)
	}

	c.log.Info().Str("module", "call").Str("correlation_id", corr).Msg("joined session")
	return nil
}

// buildConstraints resolves the media constraints for a join. An explicit
// stream short-circuits; otherwise use the caller's constraints or an
// audio+video default, with facing mode defaulted for outbound video.
func buildConstraints(opts JoinOptions, outbound bool) media.Constraints {
	if opts.Stream != nil {
		return media.Constraints{
			Audio: opts.Stream.Audio,
			Video: media.VideoConstraint{Enabled: opts.Stream.Video, FacingMode: opts.Stream.FacingMode},
		}
	}
	var cons media.Constraints
	if opts.Constraints != nil {
		cons = *opts.Constraints
	} else {
		cons = media.Constraints{Audio: true, Video: media.VideoConstraint{Enabled: true}}
	}
	if outbound && cons.Video.Enabled && cons.Video.FacingMode == "" {
		cons.Video.FacingMode = media.FacingModeUser
	}
	return cons
}

// applyLocus is the reconciliation rule. The first snapshot is adopted
// unconditionally; afterwards the comparator classifies each incoming
// copy. A fetch verdict pulls the full authoritative document, which is
// adopted outright when newer than the held snapshot.
func (c *Call) applyLocus(ctx context.Context, incoming *locus.Locus) error {
	c.mu.Lock()
	if c.torndown || c.status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	cur := c.locus
	action := locus.ActionUseIncoming
	if cur != nil {
		action = c.comparator.Compare(cur, incoming)
	}

	switch action {
	case locus.ActionIgnore:
		c.mu.Unlock()
		return nil

	case locus.ActionFetch:
		c.mu.Unlock()
		c.log.Debug().Str("module", "call").Msg("stale snapshot, refetching session")
		fetched, err := c.svc.Get(ctx, cur)
		if err != nil {
			return fmt.Errorf("failed to refetch session: %w", err)
		}
		// A fetched copy is the full authoritative document, not a
		// delta; adopt it directly unless it is older than what we
		// already hold.
		c.mu.Lock()
		if c.torndown || c.status.IsTerminal() {
			c.mu.Unlock()
			return nil
		}
		var pending []Event
		if c.locus == nil || fetched.Sequence.Value > c.locus.Sequence.Value {
			pending = c.adoptLocked(fetched)
		}
		c.mu.Unlock()
		c.dispatch(pending)
		return nil

	default: // locus.ActionUseIncoming
		pending := c.adoptLocked(incoming)
		c.mu.Unlock()
		c.dispatch(pending)
		return nil
	}
}

// adoptLocked replaces the snapshot and recomputes every derived field in
// dependency order, returning the events the transition produced. Caller
// holds c.mu.
func (c *Call) adoptLocked(incoming *locus.Locus) []Event {
	c.locus = incoming

	// Some adoption paths (an inbound alert, for one) predate knowledge of
	// the assigned device correlation; resync it from the adopted copy.
	if c.correlationID == "" {
		if d := incoming.DeviceByURL(c.device.URL); d != nil {
			c.correlationID = d.CorrelationID
		}
	}

	c.direction = incoming.Direction()
	joined := incoming.JoinedOnDevice(c.correlationID)
	c.mediaLink = incoming.MediaLinkFor(c.correlationID)

	prev := c.status
	next := locus.DeriveStatus(incoming, joined)

	var pending []Event
	if next != prev {
		c.status = next
		switch next {
		case locus.StatusRinging:
			pending = append(pending, Event{Type: EventRinging, Call: c})
		case locus.StatusConnected:
			pending = append(pending, Event{Type: EventConnected, Call: c})
		case locus.StatusDisconnected:
			pending = append(pending, Event{Type: EventDisconnected, Call: c})
		}
		c.log.Info().Str("module", "call").
			Str("from", prev.String()).Str("to", next.String()).
			Msg("status transition")
	}
	return pending
}

// dispatch emits the pending transition events; entering the disconnected
// status destroys the call after its event has been delivered.
func (c *Call) dispatch(pending []Event) {
	var disconnected bool
	for _, ev := range pending {
		c.events.emit(ev)
		if ev.Type == EventDisconnected {
			disconnected = true
		}
	}
	if disconnected {
		c.teardown()
	}
}

// onMediaChange mirrors adapter-side state into the call's derived fields
// and forwards change notifications to consumers. Display URLs stay in
// lock-step with their stream: a new URL is minted and the old one revoked
// whenever the stream reference changes.
func (c *Call) onMediaChange(chg media.Change) {
	switch chg.Field {
	case media.FieldLocalStream:
		c.mu.Lock()
		c.localStream = c.media.LocalStream()
		if c.localURL != nil {
			c.localURL.Revoke()
			c.localURL = nil
		}
		if c.localStream != nil {
			c.localURL = media.NewObjectURL(c.localStream)
		}
		c.mu.Unlock()
		c.events.emit(Event{Type: EventLocalStreamChange, Call: c})
		c.events.emit(Event{Type: EventLocalStreamURLChange, Call: c})

	case media.FieldRemoteStream:
		c.mu.Lock()
		c.remoteStream = c.media.RemoteStream()
		if c.remoteURL != nil {
			c.remoteURL.Revoke()
			c.remoteURL = nil
		}
		if c.remoteStream != nil {
			c.remoteURL = media.NewObjectURL(c.remoteStream)
		}
		c.mu.Unlock()
		c.events.emit(Event{Type: EventRemoteStreamChange, Call: c})
		c.events.emit(Event{Type: EventRemoteStreamURLChange, Call: c})

	case media.FieldSendingAudio:
		c.events.emit(Event{Type: EventSendingAudioChange, Call: c})
	case media.FieldSendingVideo:
		c.events.emit(Event{Type: EventSendingVideoChange, Call: c})
	case media.FieldReceivingAudio:
		c.events.emit(Event{Type: EventReceivingAudioChange, Call: c})
	case media.FieldReceivingVideo:
		c.events.emit(Event{Type: EventReceivingVideoChange, Call: c})
	}
}

// stopLocalMedia releases local media resources. Hangup calls this before
// any round trip so a failed leave never leaves media attached.
func (c *Call) stopLocalMedia() {
	if err := c.media.Close(); err != nil {
		c.log.Warn().Err(err).Str("module", "call").Msg("media close error")
	}
	c.mu.Lock()
	if c.localURL != nil {
		c.localURL.Revoke()
	}
	c.mu.Unlock()
}

// teardown destroys the call exactly once: detach every adapter callback
// and session-update subscription, stop the debouncer, release every
// renegotiation waiter, release both display URLs, close the media
// adapter, and drop all event handlers. Stopping the debouncer can drop
// a pending renegotiation, so its waiters must be flushed here or a
// blocked facing-mode swap would never return.
func (c *Call) teardown() {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.torndown = true
	cancels := c.cancels
	c.cancels = nil
	waiters := c.renegWaiters
	c.renegWaiters = nil
	localURL, remoteURL := c.localURL, c.remoteURL
	c.mu.Unlock()

	c.debounce.Stop()
	for _, ch := range waiters {
		ch <- ErrCallEnded
	}
	for _, cancel := range cancels {
		cancel()
	}
	if localURL != nil {
		localURL.Revoke()
	}
	if remoteURL != nil {
		remoteURL.Revoke()
	}
	if err := c.media.Close(); err != nil {
		c.log.Warn().Err(err).Str("module", "call").Msg("media close error")
	}
	c.events.closeAll()
	c.log.Info().Str("module", "call").Msg("call torn down")
}

func (c *Call) emitError(err error) {
	c.log.Error().Err(err).Str("module", "call").Msg("call error")
	c.events.emit(Event{Type: EventError, Call: c, Err: err})
}
