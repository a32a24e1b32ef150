package metrics

import (
	"sync"
	"time"

	"grimm.is/divert/internal/host"
	"grimm.is/divert/internal/packet"
)

// ElementStats is a snapshot of one element's packet counters.
type ElementStats struct {
	Element    string    `json:"element"`
	Packets    uint64    `json:"packets"`
	Bytes      uint64    `json:"bytes"`
	LastPacket time.Time `json:"last_packet,omitempty"`
}

// Sink is an output port that counts traffic into the registry before
// handing packets to the next port. With a nil next port it terminates
// the chain, which is the daemon's default.
type Sink struct {
	element  string
	next     host.OutputPort
	registry *Registry

	mu         sync.RWMutex
	packets    uint64
	bytes      uint64
	lastPacket time.Time
}

// NewSink creates a counting sink for one element.
func NewSink(element string, next host.OutputPort) *Sink {
	return &Sink{
		element:  element,
		next:     next,
		registry: Get(),
	}
}

// Push counts the packet and forwards it downstream.
func (s *Sink) Push(p *packet.Packet) {
	n := p.Len()
	s.mu.Lock()
	s.packets++
	s.bytes += uint64(n)
	s.lastPacket = p.Timestamp
	s.mu.Unlock()

	s.registry.RecordPacket(s.element, n)
	if s.next != nil {
		s.next.Push(p)
	}
}

// Stats returns the current counters.
func (s *Sink) Stats() ElementStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ElementStats{
		Element:    s.element,
		Packets:    s.packets,
		Bytes:      s.bytes,
		LastPacket: s.lastPacket,
	}
}
