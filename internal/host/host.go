// Package host defines the runtime surfaces a divert element consumes:
// packet allocation, the downstream output port, readiness registration
// and error reporting. The daemon provides real implementations; tests
// substitute fakes.
package host

import (
	"grimm.is/divert/internal/logging"
	"grimm.is/divert/internal/packet"
)

// Allocator hands out packet buffers.
type Allocator interface {
	Make(headroom, length, capacity, tailroom int) *packet.Packet
}

// OutputPort receives packets pushed downstream. Ownership of the packet
// transfers on Push.
type OutputPort interface {
	Push(p *packet.Packet)
}

// SelectHandler is invoked by the event loop when a registered descriptor
// becomes readable.
type SelectHandler interface {
	Selected(fd int)
}

// Registrar registers descriptors for read-readiness callbacks.
type Registrar interface {
	AddSelect(fd int, h SelectHandler) error
	RemoveSelect(fd int) error
}

// ErrorReporter receives configuration and initialization errors.
type ErrorReporter interface {
	Report(err error)
}

// HeapAllocator is the default Allocator backed by ordinary heap buffers.
type HeapAllocator struct{}

// Make allocates a fresh packet.
func (HeapAllocator) Make(headroom, length, capacity, tailroom int) *packet.Packet {
	return packet.Make(headroom, length, capacity, tailroom)
}

// LogReporter reports errors through a component logger.
type LogReporter struct {
	Log *logging.Logger
}

// Report logs the error at error level.
func (r *LogReporter) Report(err error) {
	if r.Log != nil {
		r.Log.Error(err.Error())
		return
	}
	logging.Error(err.Error())
}
