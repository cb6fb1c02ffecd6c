// Package gpio provides the digital outputs driving the range selectors.
package gpio

import (
	"fmt"
	"sync"

	"github.com/reef-pi/hal"
	"github.com/reef-pi/rpi/i2c"
)

// ExpanderPins is the number of lines of a PCF8575.
const ExpanderPins = 16

// Expander drives a PCF8575 16-bit I2C expander. The chip has no registers:
// every write latches all 16 lines (LSB first), bit=1 releases the line
// high and bit=0 drives it low.
type Expander struct {
	bus  i2c.Bus
	addr byte

	mu     sync.Mutex
	shadow uint16
	pins   [ExpanderPins]*expanderPin
}

type expanderPin struct {
	expander *Expander
	pin      int
}

var _ hal.DigitalOutputPin = (*expanderPin)(nil)

func (p *expanderPin) Name() string           { return fmt.Sprintf("PCF8575@0x%02X:%d", p.expander.addr, p.pin) }
func (p *expanderPin) Number() int            { return p.pin }
func (p *expanderPin) Close() error           { return nil }
func (p *expanderPin) Write(state bool) error { return p.expander.write(p.pin, state) }
func (p *expanderPin) LastState() bool        { return p.expander.latched(p.pin) }

// NewExpander creates an expander at addr and drives every line low.
func NewExpander(bus i2c.Bus, addr byte) (*Expander, error) {
	e := &Expander{bus: bus, addr: addr}
	for i := range e.pins {
		e.pins[i] = &expanderPin{expander: e, pin: i}
	}

	if err := e.flush(); err != nil {
		return nil, err
	}
	return e, nil
}

// Pin returns the output pin n.
func (e *Expander) Pin(n int) (hal.DigitalOutputPin, error) {
	if n < 0 || n >= ExpanderPins {
		return nil, fmt.Errorf("pcf8575 addr=0x%02X: invalid pin %d", e.addr, n)
	}
	return e.pins[n], nil
}

// Pins returns the output pins with the given numbers.
func (e *Expander) Pins(numbers []int) ([]hal.DigitalOutputPin, error) {
	pins := make([]hal.DigitalOutputPin, len(numbers))
	for i, n := range numbers {
		p, err := e.Pin(n)
		if err != nil {
			return nil, err
		}
		pins[i] = p
	}
	return pins, nil
}

// Close closes the underlying bus.
func (e *Expander) Close() error {
	return e.bus.Close()
}

func (e *Expander) write(pin int, state bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.shadow
	if state {
		e.shadow |= 1 << pin
	} else {
		e.shadow &^= 1 << pin
	}
	if e.shadow == prev {
		return nil
	}

	if err := e.flush(); err != nil {
		e.shadow = prev
		return err
	}
	return nil
}

func (e *Expander) latched(pin int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shadow&(1<<pin) != 0
}

// flush writes the shadow latch. Must be called with mu held or before the
// expander is shared.
func (e *Expander) flush() error {
	b := []byte{byte(e.shadow), byte(e.shadow >> 8)}
	if err := e.bus.WriteBytes(e.addr, b); err != nil {
		return fmt.Errorf("pcf8575 addr=0x%02X: write 0x%04X failed: %w", e.addr, e.shadow, err)
	}
	return nil
}
