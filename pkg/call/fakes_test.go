package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rescp17/callKit/pkg/locus"
	"github.com/rescp17/callKit/pkg/media"
)

// fakeAdapter mirrors the Engine's notification semantics without a peer
// connection: flag setters fire change callbacks synchronously, stream
// swaps additionally fire negotiation-needed.
type fakeAdapter struct {
	mu          sync.Mutex
	constraints media.Constraints
	local       *media.Stream
	remote      *media.Stream

	sendingAudio   bool
	sendingVideo   bool
	receivingAudio bool
	receivingVideo bool

	closed      bool
	offers      int
	answers     []string
	stripFacing bool
	closeHook   func()

	nextID      int
	negotiation map[int]func()
	changes     map[int]func(media.Change)
	errs        map[int]func(error)
}

func newFakeAdapter(c media.Constraints) *fakeAdapter {
	return &fakeAdapter{
		constraints:    c,
		sendingAudio:   c.Audio,
		sendingVideo:   c.Video.Enabled,
		receivingAudio: c.Audio,
		receivingVideo: c.Video.Enabled,
		negotiation:    make(map[int]func()),
		changes:        make(map[int]func(media.Change)),
		errs:           make(map[int]func(error)),
	}
}

func (f *fakeAdapter) CreateOffer(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", media.ErrClosed
	}
	f.offers++
	return fmt.Sprintf("offer-%d", f.offers), nil
}

func (f *fakeAdapter) AcceptAnswer(sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return media.ErrClosed
	}
	f.answers = append(f.answers, sdp)
	return nil
}

func (f *fakeAdapter) CaptureStream(c media.Constraints) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, media.ErrClosed
	}
	facing := c.Video.FacingMode
	if f.stripFacing {
		facing = ""
	}
	return &media.Stream{
		ID:         fmt.Sprintf("local-%d", f.nextID),
		Audio:      c.Audio,
		Video:      c.Video.Enabled,
		FacingMode: facing,
	}, nil
}

func (f *fakeAdapter) LocalStream() *media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeAdapter) RemoteStream() *media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeAdapter) SetLocalStream(s *media.Stream) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return media.ErrClosed
	}
	f.local = s
	f.mu.Unlock()
	f.fireChange(media.Change{Field: media.FieldLocalStream})
	f.fireNegotiationNeeded()
	return nil
}

// deliverRemoteStream simulates a remote track arriving.
func (f *fakeAdapter) deliverRemoteStream(s *media.Stream) {
	f.mu.Lock()
	f.remote = s
	f.mu.Unlock()
	f.fireChange(media.Change{Field: media.FieldRemoteStream})
}

func (f *fakeAdapter) Constraints() media.Constraints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.constraints
}

func (f *fakeAdapter) SendingAudio() bool   { f.mu.Lock(); defer f.mu.Unlock(); return f.sendingAudio }
func (f *fakeAdapter) SendingVideo() bool   { f.mu.Lock(); defer f.mu.Unlock(); return f.sendingVideo }
func (f *fakeAdapter) ReceivingAudio() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.receivingAudio }
func (f *fakeAdapter) ReceivingVideo() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.receivingVideo }

func (f *fakeAdapter) SetSendingAudio(enabled bool) {
	f.setFlag(&f.sendingAudio, enabled, media.FieldSendingAudio)
}

func (f *fakeAdapter) SetSendingVideo(enabled bool) {
	f.setFlag(&f.sendingVideo, enabled, media.FieldSendingVideo)
}

func (f *fakeAdapter) SetReceivingAudio(enabled bool) {
	f.setFlag(&f.receivingAudio, enabled, media.FieldReceivingAudio)
}

func (f *fakeAdapter) SetReceivingVideo(enabled bool) {
	f.setFlag(&f.receivingVideo, enabled, media.FieldReceivingVideo)
}

func (f *fakeAdapter) setFlag(flag *bool, enabled bool, field string) {
	f.mu.Lock()
	if f.closed || *flag == enabled {
		f.mu.Unlock()
		return
	}
	*flag = enabled
	f.mu.Unlock()
	f.fireChange(media.Change{Field: field})
}

func (f *fakeAdapter) OnNegotiationNeeded(fn func()) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.negotiation[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.negotiation, id)
		f.mu.Unlock()
	}
}

func (f *fakeAdapter) OnChange(fn func(media.Change)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.changes[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.changes, id)
		f.mu.Unlock()
	}
}

func (f *fakeAdapter) OnError(fn func(error)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.errs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.errs, id)
		f.mu.Unlock()
	}
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	hook := f.closeHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeAdapter) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeAdapter) acceptedAnswers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

func (f *fakeAdapter) fireNegotiationNeeded() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.negotiation))
	for _, fn := range f.negotiation {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeAdapter) fireChange(c media.Change) {
	f.mu.Lock()
	fns := make([]func(media.Change), 0, len(f.changes))
	for _, fn := range f.changes {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (f *fakeAdapter) fireError(err error) {
	f.mu.Lock()
	fns := make([]func(error), 0, len(f.errs))
	for _, fn := range f.errs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

var _ media.Adapter = (*fakeAdapter)(nil)

// fakeService scripts the session service with per-operation callbacks and
// records every request it sees.
type fakeService struct {
	mu      sync.Mutex
	updates []MediaUpdate
	gets    int

	createFn  func(invitee string, req JoinRequest) (*locus.Locus, error)
	joinFn    func(l *locus.Locus, req JoinRequest) (*locus.Locus, error)
	getFn     func(l *locus.Locus) (*locus.Locus, error)
	leaveFn   func(l *locus.Locus, deviceURL string) (*locus.Locus, error)
	declineFn func(l *locus.Locus, deviceURL string) (*locus.Locus, error)
	alertFn   func(l *locus.Locus, deviceURL string) (*locus.Locus, error)
	updateFn  func(l *locus.Locus, upd MediaUpdate) (*locus.Locus, error)
}

var errUnscripted = errors.New("fake service: operation not scripted")

func (s *fakeService) Create(_ context.Context, invitee string, req JoinRequest) (*locus.Locus, error) {
	if s.createFn == nil {
		return nil, errUnscripted
	}
	return s.createFn(invitee, req)
}

func (s *fakeService) Join(_ context.Context, l *locus.Locus, req JoinRequest) (*locus.Locus, error) {
	if s.joinFn == nil {
		return nil, errUnscripted
	}
	return s.joinFn(l, req)
}

func (s *fakeService) Get(_ context.Context, l *locus.Locus) (*locus.Locus, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if s.getFn == nil {
		return nil, errUnscripted
	}
	return s.getFn(l)
}

func (s *fakeService) Leave(_ context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	if s.leaveFn == nil {
		return nil, errUnscripted
	}
	return s.leaveFn(l, deviceURL)
}

func (s *fakeService) Decline(_ context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	if s.declineFn == nil {
		return nil, errUnscripted
	}
	return s.declineFn(l, deviceURL)
}

func (s *fakeService) Alert(_ context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	if s.alertFn == nil {
		return nil, errUnscripted
	}
	return s.alertFn(l, deviceURL)
}

func (s *fakeService) UpdateMedia(_ context.Context, l *locus.Locus, upd MediaUpdate) (*locus.Locus, error) {
	s.mu.Lock()
	s.updates = append(s.updates, upd)
	s.mu.Unlock()
	if s.updateFn == nil {
		return nil, errUnscripted
	}
	return s.updateFn(l, upd)
}

func (s *fakeService) recordedUpdates() []MediaUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MediaUpdate(nil), s.updates...)
}

func (s *fakeService) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

var _ SessionService = (*fakeService)(nil)

// fakeRegistrar hands out a fixed device record. An optional hook runs on
// every registration, letting tests pin down interleavings.
type fakeRegistrar struct {
	mu    sync.Mutex
	calls int
	dev   DeviceInfo
	err   error
	hook  func()
}

func (r *fakeRegistrar) Register(context.Context) (DeviceInfo, error) {
	r.mu.Lock()
	r.calls++
	dev, err, hook := r.dev, r.err, r.hook
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return dev, err
}

var _ Registrar = (*fakeRegistrar)(nil)

// locusBuilder assembles two-party session snapshots for tests.
type locusBuilder struct {
	seq         int64
	base        int64
	selfCreator bool
	selfState   locus.ParticipantState
	devState    locus.ParticipantState
	remoteState locus.ParticipantState
	corrID      string
	audioStatus string
	videoStatus string
	noMedia     bool
}

const (
	testLocusURL  = "https://cloud.example.com/loci/call-1"
	testDeviceURL = "https://cloud.example.com/devices/dev-1"
	testAnswerSDP = "v=0 remote-answer"
)

func (b locusBuilder) build() *locus.Locus {
	if b.base == 0 {
		b.base = b.seq
	}
	dev := locus.Device{
		URL:           testDeviceURL,
		DeviceType:    "GO_SDK",
		CorrelationID: b.corrID,
		State:         b.devState,
	}
	if !b.noMedia {
		dev.MediaConnections = []locus.MediaConnection{{MediaID: "media-1", RemoteSDP: testAnswerSDP}}
	}
	self := &locus.Participant{
		ID:        "alice",
		IsCreator: b.selfCreator,
		State:     b.selfState,
		Devices:   []locus.Device{dev},
		Status:    locus.MediaStatus{AudioStatus: b.audioStatus, VideoStatus: b.videoStatus},
	}
	return &locus.Locus{
		URL:      testLocusURL,
		Sequence: locus.Sequence{Value: b.seq, Base: b.base},
		Self:     self,
		Participants: []*locus.Participant{
			self,
			{ID: "bob", IsCreator: !b.selfCreator, State: b.remoteState},
		},
	}
}
