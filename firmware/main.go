//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adcs [MAX_CHANNELS]machine.ADC
	uart = machine.UART0

	// Active session
	sampling bool
	channels []uint8 // Enabled channel tags, sampled round robin
	next     int     // Index into channels of the next conversion
	start    time.Time

	// Block being filled: header followed by BLOCK_WORDS words
	block [12 + 2*BLOCK_WORDS]byte
	words int

	// Command parser
	command [3]byte
	cmdPos  int
)

func main() {
	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}

	for ch, pin := range ADC_PINS {
		if pin == machine.NoPin {
			continue
		}
		pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		adcs[ch] = machine.ADC{Pin: pin}
		adcs[ch].Configure(adcConfig)
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	interval := time.Second / SAMPLE_RATE
	nextSample := time.Now()

	for {
		processSerial()

		if !sampling {
			time.Sleep(time.Millisecond)
			nextSample = time.Now()
			continue
		}

		now := time.Now()
		if now.Before(nextSample) {
			continue
		}
		nextSample = nextSample.Add(interval)

		sample(now)
	}
}

// sample converts the next channel and sends the block once full.
func sample(now time.Time) {
	if words == 0 {
		putUint64(block[2:], uint64(now.Sub(start).Microseconds()))
	}

	ch := channels[next]
	next = (next + 1) % len(channels)

	// machine.ADC returns 16-bit scaled values
	count := adcs[ch].Get() >> 4
	word := uint16(ch)<<12 | count&0x0FFF
	block[12+2*words] = byte(word)
	block[13+2*words] = byte(word >> 8)
	words++

	if words == BLOCK_WORDS {
		block[0] = MAGIC0
		block[1] = MAGIC1
		n := uint16(BLOCK_WORDS)
		block[10] = byte(n)
		block[11] = byte(n >> 8)
		uart.Write(block[:])
		words = 0
	}
}

// startSampling enables the channels of mask. Unwired channels are ignored.
func startSampling(mask uint16) {
	channels = channels[:0]
	for ch := range MAX_CHANNELS {
		if mask&(1<<ch) != 0 && ADC_PINS[ch] != machine.NoPin {
			channels = append(channels, uint8(ch))
		}
	}
	next = 0
	words = 0
	start = time.Now()
	sampling = len(channels) > 0
}

func stopSampling() {
	sampling = false
	words = 0
}

// processSerial parses S<mask lo><mask hi> and X commands.
func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if cmdPos == 0 {
			switch data {
			case COMMAND_START:
				command[0] = data
				cmdPos = 1
			case COMMAND_STOP:
				stopSampling()
			}
			// Anything else is line noise
			continue
		}

		command[cmdPos] = data
		cmdPos++
		if cmdPos == len(command) {
			startSampling(uint16(command[1]) | uint16(command[2])<<8)
			cmdPos = 0
		}
	}
}

func putUint64(b []byte, v uint64) {
	for i := range 8 {
		b[i] = byte(v >> (8 * i))
	}
}
