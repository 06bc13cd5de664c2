package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/observability"
)

// AdminRoom receives every ride and driver update.
const AdminRoom = "admin"

// Envelope is the outbound wire frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Channel is one live transport connection. An identity may hold several.
type Channel interface {
	ID() string
	Send(Envelope) error
}

// Registry maps rooms to the channels joined to them. A personal room is
// named after the identity it belongs to.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Channel
	joined   map[string]map[string]struct{}
	channels map[string]Channel
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:    make(map[string]map[string]Channel),
		joined:   make(map[string]map[string]struct{}),
		channels: make(map[string]Channel),
		logger:   logger,
	}
}

// Register joins ch to the personal room of identity.
func (r *Registry) Register(identity string, ch Channel) { r.Join(identity, ch) }

func (r *Registry) Join(room string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ch.ID()
	if _, ok := r.channels[id]; !ok {
		r.channels[id] = ch
		r.joined[id] = make(map[string]struct{})
		observability.ConnectedChannels.Inc()
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Channel)
		r.rooms[room] = members
	}
	members[id] = ch
	r.joined[id][room] = struct{}{}
}

func (r *Registry) Leave(room string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, ch.ID())
}

func (r *Registry) leaveLocked(room, id string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[id]; ok {
		delete(rooms, room)
	}
}

// Remove drops ch from every room it joined. Nothing else changes: a
// driver whose last channel disconnects keeps its presence state.
func (r *Registry) Remove(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ch.ID()
	if _, ok := r.channels[id]; !ok {
		return
	}
	for room := range r.joined[id] {
		r.leaveLocked(room, id)
	}
	delete(r.joined, id)
	delete(r.channels, id)
	observability.ConnectedChannels.Dec()
}

// Broadcast delivers to every channel in room and returns how many sends
// succeeded. A failing channel never stops delivery to the others.
func (r *Registry) Broadcast(room, event string, payload any) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.rooms[room]))
	for _, ch := range r.rooms[room] {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	env := Envelope{Event: event, Data: payload}
	delivered := 0
	for _, ch := range targets {
		if r.deliver(ch, env) == nil {
			delivered++
		}
	}
	return delivered
}

// Unicast targets the personal room of identity.
func (r *Registry) Unicast(identity, event string, payload any) int {
	return r.Broadcast(identity, event, payload)
}

// Send replies on a single channel.
func (r *Registry) Send(ch Channel, event string, payload any) error {
	return r.deliver(ch, Envelope{Event: event, Data: payload})
}

func (r *Registry) deliver(ch Channel, env Envelope) error {
	if err := ch.Send(env); err != nil {
		observability.Deliveries.WithLabelValues(env.Event, "error").Inc()
		r.logger.Warn("delivery_failed", "channel", ch.ID(), "event", env.Event, "error", err)
		return err
	}
	observability.Deliveries.WithLabelValues(env.Event, "ok").Inc()
	return nil
}

// Rooms lists the rooms ch has joined, sorted.
func (r *Registry) Rooms(ch Channel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[ch.ID()]))
	for room := range r.joined[ch.ID()] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Members lists the channel ids joined to room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
