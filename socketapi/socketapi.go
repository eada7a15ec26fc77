// Package socketapi defines the convenience surface applications consume to
// exchange messages over a live connection. The transport itself is a
// collaborator behind the Hook interface; this package only fixes the
// contract and ships an in-process implementation for wiring and tests.
package socketapi

import (
	"fmt"
	"sync"
)

// ReadyState mirrors the lifecycle of a live connection.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Hook is the connection surface handed to application code.
type Hook interface {
	// LastMessage returns the most recently received message, or nil if
	// nothing has arrived yet.
	LastMessage() []byte

	// ReadyState reports the connection lifecycle state.
	ReadyState() ReadyState

	// SendMessage queues data for delivery to the peer.
	SendMessage(data []byte) error

	// Close shuts the connection down.
	Close() error
}

// Pipe is an in-process Hook: messages sent on one end arrive as the last
// message of the other. Both ends share lifecycle state.
type Pipe struct {
	mu     sync.RWMutex
	state  ReadyState
	last   []byte
	peer   *Pipe
	outbox chan []byte
}

// NewPipe returns two connected ends in the open state.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{state: StateOpen, outbox: make(chan []byte, 16)}
	b := &Pipe{state: StateOpen, outbox: make(chan []byte, 16)}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *Pipe) LastMessage() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *Pipe) ReadyState() ReadyState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SendMessage delivers data to the peer end. Fails once either end closed.
func (p *Pipe) SendMessage(data []byte) error {
	p.mu.RLock()
	state := p.state
	peer := p.peer
	p.mu.RUnlock()

	if state != StateOpen {
		return fmt.Errorf("cannot send in state %s", state)
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.state != StateOpen {
		return fmt.Errorf("peer is %s", peer.state)
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	peer.last = copied

	select {
	case peer.outbox <- copied:
	default:
		// Receiver is not draining; the latest message is still
		// observable through LastMessage.
	}

	return nil
}

// Messages exposes the delivery channel for callers that want to react to
// every message rather than polling LastMessage.
func (p *Pipe) Messages() <-chan []byte {
	return p.outbox
}

// Close shuts down both ends; closing either side closes the connection.
func (p *Pipe) Close() error {
	p.closeEnd()
	p.peer.closeEnd()
	return nil
}

func (p *Pipe) closeEnd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateClosed
}
