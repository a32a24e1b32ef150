// Package packet provides the headroom-aware packet buffer handed between
// the divert socket and downstream ports.
package packet

import "time"

// Packet is a single IP packet with reserved headroom and tailroom.
// The payload occupies buf[head : head+length]; headroom lets later
// stages prepend encapsulation without copying.
type Packet struct {
	buf    []byte
	head   int
	length int

	// Timestamp is the wall-clock receive time annotation.
	Timestamp time.Time
}

// Make allocates a packet with the given headroom, initial payload length,
// payload capacity and tailroom. length must not exceed capacity.
func Make(headroom, length, capacity, tailroom int) *Packet {
	if length > capacity {
		length = capacity
	}
	return &Packet{
		buf:    make([]byte, headroom+capacity+tailroom),
		head:   headroom,
		length: length,
	}
}

// Data returns the current payload.
func (p *Packet) Data() []byte {
	return p.buf[p.head : p.head+p.length]
}

// Buffer returns the full writable payload region (payload capacity plus
// tailroom), for reads that determine the length afterwards.
func (p *Packet) Buffer() []byte {
	return p.buf[p.head:]
}

// Len returns the payload length.
func (p *Packet) Len() int {
	return p.length
}

// SetLen sets the payload length after a read into Buffer.
func (p *Packet) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if max := len(p.buf) - p.head; n > max {
		n = max
	}
	p.length = n
}

// Headroom returns the number of bytes reserved before the payload.
func (p *Packet) Headroom() int {
	return p.head
}

// Tailroom returns the number of bytes available after the payload.
func (p *Packet) Tailroom() int {
	return len(p.buf) - p.head - p.length
}
