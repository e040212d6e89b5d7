package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/fleetdesk/portal/src/metrics"
)

// Callbacks is the typed surface a local subscriber receives events on.
// All fields are optional.
type Callbacks struct {
	// The transport subscription is established (ack received). Also
	// fires again after an automatic reconnect.
	OnConnected func()
	// The underlying connection dropped; the registry resubscribes on
	// reconnect, the subscriber does not need to act.
	OnDisconnected func()
	// The server refused this channel. Terminal for the subscription:
	// no implicit retry happens at this layer.
	OnRejected func(reason string)
	// A decoded push event for this channel.
	OnEvent func(ev Event)
}

// Handle represents one local subscriber's claim on a channel.
type Handle struct {
	reg  *Registry
	ch   *channel
	once sync.Once
}

// Unsubscribe releases the claim. The transport subscription is torn
// down only when the last handle for the channel unsubscribes.
// Idempotent.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.reg.release(h)
	})
}

// channel is one reference-counted transport subscription.
type channel struct {
	kind     Kind
	key      string
	handles  map[*Handle]Callbacks
	rejected bool
}

// Registry multiplexes logical channel subscriptions over the single
// connection. Two views subscribing to the same (kind, key) share one
// transport subscription; each still gets every event exactly once.
//
// The registry implements Handler: it re-sends subscribe frames after
// the manager reconnects, so subscribers survive network drops without
// resubscribing themselves.
type Registry struct {
	mgr *Manager

	mu       sync.Mutex
	channels map[string]*channel
}

// NewRegistry creates a registry and installs it as the manager's
// handler.
func NewRegistry(mgr *Manager) *Registry {
	r := &Registry{
		mgr:      mgr,
		channels: make(map[string]*channel),
	}
	mgr.SetHandler(r)
	return r
}

// Subscribe opens (or joins) the subscription for (kind, key) and
// returns a handle. Subscribing to a channel that was previously
// rejected re-issues the transport subscription: explicit re-subscribe
// is the one sanctioned retry path.
func (r *Registry) Subscribe(kind Kind, key string, cb Callbacks) *Handle {
	name := ChannelName(kind, key)

	r.mu.Lock()
	ch, ok := r.channels[name]
	fresh := !ok || ch.rejected
	if !ok {
		ch = &channel{kind: kind, key: key, handles: make(map[*Handle]Callbacks)}
		r.channels[name] = ch
		metrics.RealtimeSubscriptionsActive.Inc()
	}
	ch.rejected = false
	h := &Handle{reg: r, ch: ch}
	ch.handles[h] = cb
	r.mu.Unlock()

	if fresh {
		if err := r.mgr.Subscribe(kind, key); err != nil {
			// Not connected yet; HandleConnected will send it
			log.Printf("realtime: deferred subscribe %s: %v", name, err)
		}
	}
	return h
}

// release drops a handle; the last one tears down the channel.
func (r *Registry) release(h *Handle) {
	name := ChannelName(h.ch.kind, h.ch.key)

	r.mu.Lock()
	delete(h.ch.handles, h)
	last := len(h.ch.handles) == 0
	if last {
		delete(r.channels, name)
		metrics.RealtimeSubscriptionsActive.Dec()
	}
	r.mu.Unlock()

	if last {
		if err := r.mgr.Unsubscribe(h.ch.kind, h.ch.key); err != nil {
			log.Printf("realtime: unsubscribe %s: %v", name, err)
		}
	}
}

// ChannelCount returns the number of open transport subscriptions.
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// RefCount returns the number of local subscribers on a channel.
func (r *Registry) RefCount(kind Kind, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[ChannelName(kind, key)]; ok {
		return len(ch.handles)
	}
	return 0
}

// HandleConnected re-establishes every live subscription after a
// (re)connect. Rejected channels stay down until someone subscribes
// again.
func (r *Registry) HandleConnected() {
	r.mu.Lock()
	resend := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if !ch.rejected {
			resend = append(resend, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range resend {
		if err := r.mgr.Subscribe(ch.kind, ch.key); err != nil {
			log.Printf("realtime: resubscribe %s: %v", ChannelName(ch.kind, ch.key), err)
		}
	}
}

// HandleDisconnected fans the drop out to every subscriber.
func (r *Registry) HandleDisconnected() {
	for _, cb := range r.allCallbacks() {
		if cb.OnDisconnected != nil {
			cb.OnDisconnected()
		}
	}
}

// HandleFrame dispatches one pushed frame to the channel it belongs to.
func (r *Registry) HandleFrame(f *Frame) {
	switch f.Type {
	case FrameSubscribed:
		for _, cb := range r.channelCallbacks(f.Channel) {
			if cb.OnConnected != nil {
				cb.OnConnected()
			}
		}

	case FrameSubscriptionRejected:
		var p rejectPayload
		json.Unmarshal(f.Payload, &p)
		if p.Reason == "" {
			p.Reason = "unknown"
		}

		r.mu.Lock()
		ch, ok := r.channels[f.Channel]
		var cbs []Callbacks
		if ok {
			ch.rejected = true
			for _, cb := range ch.handles {
				cbs = append(cbs, cb)
			}
		}
		r.mu.Unlock()

		log.Printf("realtime: subscription %s rejected: %s", f.Channel, p.Reason)
		for _, cb := range cbs {
			if cb.OnRejected != nil {
				cb.OnRejected(p.Reason)
			}
		}

	case FrameNotification, FrameMessage, FramePresence:
		ev, err := DecodeEvent(f)
		if err != nil {
			// A single bad event must never corrupt store state
			log.Printf("realtime: dropping event on %s: %v", f.Channel, err)
			metrics.RealtimeEventsDroppedTotal.WithLabelValues("malformed").Inc()
			return
		}
		metrics.RealtimeEventsTotal.WithLabelValues(f.Type).Inc()

		cbs := r.channelCallbacks(f.Channel)
		if len(cbs) == 0 {
			metrics.RealtimeEventsDroppedTotal.WithLabelValues("unknown_channel").Inc()
			return
		}
		for _, cb := range cbs {
			if cb.OnEvent != nil {
				cb.OnEvent(ev)
			}
		}

	default:
		log.Printf("realtime: ignoring frame type %q", f.Type)
	}
}

// channelCallbacks copies the callbacks of one channel so they can be
// invoked without holding the lock (a callback may subscribe or
// unsubscribe).
func (r *Registry) channelCallbacks(name string) []Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok || ch.rejected {
		return nil
	}
	cbs := make([]Callbacks, 0, len(ch.handles))
	for _, cb := range ch.handles {
		cbs = append(cbs, cb)
	}
	return cbs
}

// allCallbacks copies the callbacks of every channel.
func (r *Registry) allCallbacks() []Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cbs []Callbacks
	for _, ch := range r.channels {
		for _, cb := range ch.handles {
			cbs = append(cbs, cb)
		}
	}
	return cbs
}
