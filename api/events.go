package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/rescp17/callKit/pkg/locus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// EventFeed is the push channel for session updates: a websocket that
// delivers locus-event frames as the service applies changes. Subscribers
// receive every decoded snapshot; a call wires its subscription through
// Call.ConsumeUpdates so it is detached at teardown.
type EventFeed struct {
	url   string
	token string
	log   zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[int]chan *locus.Locus
	nextID int
	done   chan struct{}
	closed bool
}

// NewEventFeed creates a feed for the given websocket URL. Call Dial to
// connect.
func NewEventFeed(url, token string) *EventFeed {
	return &EventFeed{
		url:   url,
		token: token,
		log:   zlog.With().Str("module", "events").Logger(),
		subs:  make(map[int]chan *locus.Locus),
		done:  make(chan struct{}),
	}
}

type eventFrame struct {
	Type  string       `json:"type"`
	Locus *locus.Locus `json:"locus,omitempty"`
}

// Dial connects the feed and starts its read and keepalive loops.
func (f *EventFeed) Dial(ctx context.Context) error {
	header := http.Header{}
	header.Set(authHeader, "Bearer "+f.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("failed to connect event feed: %w", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return fmt.Errorf("event feed already closed")
	}
	f.conn = conn
	f.mu.Unlock()

	go f.readLoop(conn)
	go f.pingLoop(conn)
	f.log.Info().Str("url", f.url).Msg("event feed connected")
	return nil
}

// Subscribe registers a subscriber channel and returns it with its cancel.
func (f *EventFeed) Subscribe() (<-chan *locus.Locus, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan *locus.Locus, 8)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close shuts the feed down and closes every subscriber channel.
func (f *EventFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	conn := f.conn
	f.conn = nil
	subs := f.subs
	f.subs = make(map[int]chan *locus.Locus)
	f.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (f *EventFeed) readLoop(conn *websocket.Conn) {
	defer f.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
			default:
				f.log.Warn().Err(err).Msg("event feed read error")
			}
			return
		}
		f.routeFrame(data)
	}
}

// routeFrame decodes one frame and fans a session update out to every
// subscriber. Slow subscribers drop frames rather than stall the feed;
// the reconciliation fetch rule recovers the gap.
func (f *EventFeed) routeFrame(data []byte) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode event frame")
		return
	}
	if frame.Type != "locus.updated" || frame.Locus == nil {
		f.log.Debug().Str("type", frame.Type).Msg("ignoring event frame")
		return
	}

	f.mu.Lock()
	subs := make([]chan *locus.Locus, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- frame.Locus:
		default:
			f.log.Warn().Msg("subscriber lagging, dropping session update")
		}
	}
}

func (f *EventFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.log.Warn().Err(err).Msg("event feed ping failed")
				return
			}
		}
	}
}
