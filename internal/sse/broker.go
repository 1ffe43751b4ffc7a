// Package sse streams prerender progress to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types the broker interprets.
const (
	// EventProgress is the throttled companion of page events.
	EventProgress = "progress"
	// EventRunStarted resets the progress counters.
	EventRunStarted = "run.started"
)

type pageEvent struct {
	locale string
	path   string
	errMsg string
}

// message is either a plain event or, when page is set, a page event that
// also feeds the progress counters. Both travel on one channel so their
// order is preserved.
type message struct {
	event Event
	page  *pageEvent
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the client set, the page counters and the
// progress throttle. Public methods talk to it over channels.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan message
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker emitting at most one progress event per
// progressThrottle.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = time.Second
	}

	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan message, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	counts := map[string]int{}

	// Progress throttle. A page event inside the window arms the trailing
	// timer so the latest counts are always sent once the window closes.
	var (
		lastProgress time.Time
		trailing     *time.Timer
		trailingC    <-chan time.Time
		dirty        bool
	)
	stopTrailing := func() {
		if trailing != nil {
			trailing.Stop()
			trailing, trailingC = nil, nil
		}
	}
	defer stopTrailing()

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	emitProgress := func() {
		stopTrailing()
		lastProgress = time.Now()
		dirty = false
		broadcast(Event{Type: EventProgress, Data: maps.Clone(counts)})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case msg := <-b.publishCh:
			if msg.page == nil {
				if msg.event.Type == EventRunStarted {
					stopTrailing()
					clear(counts)
					lastProgress, dirty = time.Time{}, false
				}
				broadcast(msg.event)
				continue
			}

			data := map[string]string{"path": msg.page.path, "locale": msg.page.locale}
			if msg.page.errMsg != "" {
				data["error"] = msg.page.errMsg
			}
			broadcast(Event{Type: msg.event.Type, Data: data})
			counts[msg.event.Type]++
			dirty = true

			if wait := b.progressMin - time.Since(lastProgress); wait <= 0 {
				emitProgress()
			} else if trailing == nil {
				trailing = time.NewTimer(wait)
				trailingC = trailing.C
			}

		case <-trailingC:
			trailing, trailingC = nil, nil
			if dirty {
				emitProgress()
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{event: event}:
	case <-b.stopped:
	}
}

// PublishPageEvent publishes a per-page event followed by a throttled
// progress event carrying the counts per kind since the last run.started.
func (b *Broker) PublishPageEvent(kind, locale, path, errMsg string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{event: Event{Type: kind}, page: &pageEvent{locale: locale, path: path, errMsg: errMsg}}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
