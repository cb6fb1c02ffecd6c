//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_RATE  = 44000 // Aggregate conversions per second over all enabled channels
	BLOCK_WORDS  = 1024  // Words per block, must match the host block size
	MAX_CHANNELS = 16    // Channel tags carried by the upper 4 bits of a word

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Serial configuration
	// 44000 words/s * 2 bytes + 12 header bytes per 1024 words = ~88,500 bytes/sec
	// UART 8N1: 10 bits/byte = 885,000 baud minimum, 921600 leaves ~4% headroom
	UART_BAUD_RATE = 921600

	// Frame marker and commands
	MAGIC0        = 0xA5
	MAGIC1        = 0x5A
	COMMAND_START = 'S' // followed by the channel mask, little endian uint16
	COMMAND_STOP  = 'X'
)

// ADC_PINS maps channel tags to analog inputs. NoPin marks unwired tags.
// Tag 0 is the voltage divider, 3 the shunt amplifier and 6 the analog
// ground reference.
var ADC_PINS = [MAX_CHANNELS]machine.Pin{
	machine.A0, machine.NoPin, machine.NoPin, machine.A3,
	machine.NoPin, machine.NoPin, machine.A6, machine.NoPin,
	machine.NoPin, machine.NoPin, machine.NoPin, machine.NoPin,
	machine.NoPin, machine.NoPin, machine.NoPin, machine.NoPin,
}
