package frontend

import (
	"fmt"

	"github.com/reef-pi/hal"
)

// RangeSelector switches the hardware gain stage of an input. Select must
// complete before the next sample group of that input is captured.
type RangeSelector interface {
	Select(index int) error
}

// SelectorFunc adapts a function to RangeSelector.
type SelectorFunc func(index int) error

// Select calls f(index).
func (f SelectorFunc) Select(index int) error {
	return f(index)
}

// Selectors drives several selectors in order.
type Selectors []RangeSelector

// Select forwards index to every selector and stops at the first error.
func (s Selectors) Select(index int) error {
	for _, sel := range s {
		if err := sel.Select(index); err != nil {
			return err
		}
	}
	return nil
}

// OneHot raises exactly one select line per range.
type OneHot struct {
	pins []hal.DigitalOutputPin
}

// NewOneHot creates a selector with one line per range.
func NewOneHot(pins []hal.DigitalOutputPin) *OneHot {
	return &OneHot{pins: pins}
}

// Select lowers every other line before raising the selected one so two
// gain stages are never enabled at once.
func (s *OneHot) Select(index int) error {
	if index < 0 || index >= len(s.pins) {
		return fmt.Errorf("one-hot selector: invalid range %d of %d", index, len(s.pins))
	}
	for i, p := range s.pins {
		if i == index {
			continue
		}
		if err := p.Write(false); err != nil {
			return fmt.Errorf("one-hot selector: %s: %w", p.Name(), err)
		}
	}
	if err := s.pins[index].Write(true); err != nil {
		return fmt.Errorf("one-hot selector: %s: %w", s.pins[index].Name(), err)
	}
	return nil
}

// Binary encodes the range index on its lines, pins[0] being the least
// significant bit.
type Binary struct {
	pins []hal.DigitalOutputPin
}

// NewBinary creates a selector addressing up to 2^len(pins) ranges.
func NewBinary(pins []hal.DigitalOutputPin) *Binary {
	return &Binary{pins: pins}
}

// Select writes the bits of index.
func (s *Binary) Select(index int) error {
	if index < 0 || index >= 1<<len(s.pins) {
		return fmt.Errorf("binary selector: invalid range %d for %d lines", index, len(s.pins))
	}
	for bit, p := range s.pins {
		if err := p.Write(index&(1<<bit) != 0); err != nil {
			return fmt.Errorf("binary selector: %s: %w", p.Name(), err)
		}
	}
	return nil
}

// NewSelector builds a selector of the named kind.
func NewSelector(kind string, pins []hal.DigitalOutputPin) (RangeSelector, error) {
	switch kind {
	case "one_hot":
		return NewOneHot(pins), nil
	case "binary":
		return NewBinary(pins), nil
	default:
		return nil, fmt.Errorf("unknown range selector %q", kind)
	}
}
