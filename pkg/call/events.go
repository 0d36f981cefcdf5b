package call

import "sync"

// EventType names a lifecycle event or a derived-field change notification.
type EventType string

const (
	// Lifecycle events, fired on derived-status transitions.
	EventRinging      EventType = "ringing"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	// EventError surfaces failures of fire-and-forget operations (dial,
	// renegotiation) and media-stack errors.
	EventError EventType = "error"

	// Change notifications for observable call fields.
	EventLocalStreamChange     EventType = "change:localStream"
	EventRemoteStreamChange    EventType = "change:remoteStream"
	EventLocalStreamURLChange  EventType = "change:localStreamURL"
	EventRemoteStreamURLChange EventType = "change:remoteStreamURL"
	EventSendingAudioChange    EventType = "change:sendingAudio"
	EventSendingVideoChange    EventType = "change:sendingVideo"
	EventReceivingAudioChange  EventType = "change:receivingAudio"
	EventReceivingVideoChange  EventType = "change:receivingVideo"
)

// Event is delivered to every handler registered for its type.
type Event struct {
	Type EventType
	Call *Call
	Err  error
}

// Handler consumes one event.
type Handler func(Event)

// Subscription is the handle returned by On. Closing it detaches the
// handler; the Call batches all open subscriptions and closes them during
// teardown.
type Subscription struct {
	once  sync.Once
	close func()
}

// Close detaches the handler. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// emitter is a per-call listener registry. There is no global listener
// table: every registration hands back its own handle.
type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[EventType]map[int]Handler
	subs     []*Subscription
	closed   bool
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventType]map[int]Handler)}
}

func (e *emitter) on(t EventType, h Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &Subscription{close: func() {}}
	}
	id := e.nextID
	e.nextID++
	if e.handlers[t] == nil {
		e.handlers[t] = make(map[int]Handler)
	}
	e.handlers[t][id] = h
	sub := &Subscription{close: func() {
		e.mu.Lock()
		delete(e.handlers[t], id)
		e.mu.Unlock()
	}}
	e.subs = append(e.subs, sub)
	return sub
}

// emit invokes handlers outside the registry lock so they may register or
// close subscriptions reentrantly.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	hs := make([]Handler, 0, len(e.handlers[ev.Type]))
	for _, h := range e.handlers[ev.Type] {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// closeAll detaches every handler registered on this emitter.
func (e *emitter) closeAll() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.closed = true
	e.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
