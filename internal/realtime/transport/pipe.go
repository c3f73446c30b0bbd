package transport

import (
	"context"
	"sync"
)

// Pipe is an in-process Transport. Outbound frames are captured for
// inspection and inbound frames are injected by the test (or loopback)
// driving it; connection state is toggled explicitly.
type Pipe struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	sent      []Frame

	frames chan Frame
	states chan bool
}

// NewPipe builds a disconnected pipe.
func NewPipe() *Pipe {
	return &Pipe{
		frames: make(chan Frame, 256),
		states: make(chan bool, 8),
	}
}

// Dial marks the pipe connected.
func (p *Pipe) Dial(ctx context.Context, token string) error {
	p.SetConnected(true)
	return nil
}

// Close marks the pipe closed and disconnected.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.connected = false
	p.mu.Unlock()
	return nil
}

// Emit records the outbound frame.
func (p *Pipe) Emit(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.connected {
		return ErrDisconnected
	}
	p.sent = append(p.sent, frame)
	return nil
}

// Frames yields injected inbound frames.
func (p *Pipe) Frames() <-chan Frame { return p.frames }

// States yields injected connection transitions.
func (p *Pipe) States() <-chan bool { return p.states }

// Connected reports the toggled state.
func (p *Pipe) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetConnected toggles the connection state and publishes the transition.
func (p *Pipe) SetConnected(up bool) {
	p.mu.Lock()
	changed := p.connected != up
	p.connected = up
	p.mu.Unlock()
	if changed {
		p.states <- up
	}
}

// Inject delivers an inbound frame as if the server had emitted it.
func (p *Pipe) Inject(frame Frame) {
	p.frames <- frame
}

// Sent returns a copy of every frame emitted so far.
func (p *Pipe) Sent() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Frame, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentNamed returns the emitted frames matching the event name.
func (p *Pipe) SentNamed(event string) []Frame {
	var out []Frame
	for _, f := range p.Sent() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}
