// Package sse implements a Server-Sent Events broker for document change
// notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event types sent to clients.
const (
	TypeDocumentCreated = "document.created"
	TypeDocumentUpdated = "document.updated"
	TypeDocumentDeleted = "document.deleted"
	TypeGraphUpdated    = "graph.updated"
	TypeCheckCompleted  = "check.completed"
)

const clientBuffer = 64

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is an encoded event with its sequence number.
type frame struct {
	id  uint64
	typ string
	raw []byte
}

// Subscription is one connected client. Frames arrive on C until the client
// unsubscribes or the broker closes.
type Subscription struct {
	C <-chan []byte

	ch    chan []byte
	types []string
	after uint64
}

// wants reports whether the subscription's type filter admits typ. An entry
// matches the type itself and every type below it, so "document" selects
// all document events.
func (s *Subscription) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if typ == t || strings.HasPrefix(typ, t+".") {
			return true
		}
	}
	return false
}

type docEventReq struct {
	kind string
	path string
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory keeps the last n events for clients reconnecting with
// Last-Event-ID. Zero disables replay.
func WithHistory(n int) Option {
	return func(b *Broker) { b.historyLen = max(n, 0) }
}

// WithHeartbeat sends a comment line to idle clients every d so proxies keep
// the stream open. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the client set, the replay history and the graph
// throttle timestamp. Public methods talk to it over channels.
type Broker struct {
	graphMin   time.Duration
	historyLen int
	heartbeat  time.Duration

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	publishCh     chan Event
	docEventCh    chan docEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits graph.updated at most once per
// graphThrottle.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		historyLen:    clientBuffer,
		heartbeat:     30 * time.Second,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		publishCh:     make(chan Event, 256),
		docEventCh:    make(chan docEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	go b.run()
	return b
}

// eventType maps a change kind to its event type.
func eventType(kind string) string {
	switch kind {
	case "created":
		return TypeDocumentCreated
	case "updated":
		return TypeDocumentUpdated
	case "deleted":
		return TypeDocumentDeleted
	}
	return ""
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[*Subscription]struct{})
	var (
		history   []frame
		seq       uint64
		lastGraph time.Time
	)

	deliver := func(sub *Subscription, f frame) {
		if !sub.wants(f.typ) {
			return
		}
		select {
		case sub.ch <- f.raw:
		default:
			// Slow client; drop rather than block the loop.
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{
			id:  seq,
			typ: event.Type,
			raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload),
		}
		if b.historyLen > 0 {
			history = append(history, f)
			if len(history) > b.historyLen {
				history = history[len(history)-b.historyLen:]
			}
		}
		for sub := range clients {
			deliver(sub, f)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for sub := range clients {
				close(sub.ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub] = struct{}{}
			if sub.after > 0 {
				for _, f := range history {
					if f.id > sub.after {
						deliver(sub, f)
					}
				}
			}

		case sub := <-b.unsubscribeCh:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				close(sub.ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.docEventCh:
			typ := eventType(req.kind)
			if typ == "" {
				continue
			}
			broadcast(Event{Type: typ, Data: map[string]string{"path": req.path}})

			now := time.Now()
			if now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				broadcast(Event{Type: TypeGraphUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving the given event types, or every type
// when none are given. A non-zero after replays retained events with a
// larger id.
func (b *Broker) Subscribe(after uint64, types ...string) *Subscription {
	ch := make(chan []byte, clientBuffer)
	sub := &Subscription{C: ch, ch: ch, types: types, after: after}
	if b.closed.Load() {
		close(ch)
		return sub
	}

	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(ch)
	}
	return sub
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- sub:
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
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishDocumentEvent publishes a document change ("created", "updated" or
// "deleted") and a throttled graph.updated event. It matches the watcher
// callback signature.
func (b *Broker) PublishDocumentEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.docEventCh <- docEventReq{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// types query parameter is a comma-separated filter; Last-Event-ID resumes
// a dropped stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	for t := range strings.SplitSeq(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(after, types...)
	defer b.Unsubscribe(sub)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
