package gpio

import (
	"fmt"
	"sync"

	"github.com/reef-pi/hal"
)

// VirtualPin is an output pin that only remembers its state. It stands in
// for the selector lines when no expander is fitted.
type VirtualPin struct {
	name   string
	number int

	mu     sync.Mutex
	state  bool
	writes int
}

var _ hal.DigitalOutputPin = (*VirtualPin)(nil)

// NewVirtualPins creates n virtual pins named after prefix.
func NewVirtualPins(prefix string, n int) []hal.DigitalOutputPin {
	pins := make([]hal.DigitalOutputPin, n)
	for i := range pins {
		pins[i] = &VirtualPin{name: fmt.Sprintf("%s:%d", prefix, i), number: i}
	}
	return pins
}

func (p *VirtualPin) Name() string { return p.name }
func (p *VirtualPin) Number() int  { return p.number }
func (p *VirtualPin) Close() error { return nil }

// Write records the state.
func (p *VirtualPin) Write(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.writes++
	return nil
}

// LastState returns the last written state.
func (p *VirtualPin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Writes returns the number of writes.
func (p *VirtualPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}
