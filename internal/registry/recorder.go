package registry

import (
	"errors"
	"sync"
)

// ErrClosed is returned by a Recorder after Fail is set.
var ErrClosed = errors.New("channel closed")

// Recorder is an in-memory Channel that keeps every envelope it is sent.
// The HTTP layer and tests use it where no socket exists.
type Recorder struct {
	id   string
	mu   sync.Mutex
	got  []Envelope
	fail bool
}

func NewRecorder(id string) *Recorder { return &Recorder{id: id} }

func (c *Recorder) ID() string { return c.id }

func (c *Recorder) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrClosed
	}
	c.got = append(c.got, env)
	return nil
}

// Fail makes every later Send return ErrClosed.
func (c *Recorder) Fail() {
	c.mu.Lock()
	c.fail = true
	c.mu.Unlock()
}

func (c *Recorder) Envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.got...)
}

// Events returns the event names received, in order.
func (c *Recorder) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	for i, e := range c.got {
		out[i] = e.Event
	}
	return out
}

// Last returns the most recent envelope with the given event name.
func (c *Recorder) Last(event string) (Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.got) - 1; i >= 0; i-- {
		if c.got[i].Event == event {
			return c.got[i], true
		}
	}
	return Envelope{}, false
}
