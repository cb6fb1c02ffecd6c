package stream

import (
	"sync/atomic"

	"github.com/itohio/wattmeter/pkg/sample"
)

// FrameSink delivers encoded frames to consumers.
type FrameSink interface {
	// Ready reports whether at least one consumer can take a frame now.
	Ready() bool
	// BroadcastFrame hands the frame to every ready consumer and returns
	// how many took it.
	BroadcastFrame(data []byte) int
}

// Sender batches blocks of measures into frames. Nothing is buffered beyond
// the frame being built: blocks arriving while no consumer is ready are
// dropped.
type Sender struct {
	sink           FrameSink
	blocksPerFrame int

	frame   Frame
	blocks  int
	buf     []byte
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewSender creates a sender batching blocksPerFrame blocks per frame.
func NewSender(sink FrameSink, blocksPerFrame int) *Sender {
	if blocksPerFrame < 1 {
		blocksPerFrame = 1
	}
	return &Sender{
		sink:           sink,
		blocksPerFrame: blocksPerFrame,
	}
}

// Send adds a block of measures taken with the given scale factors. The
// measures are copied.
func (s *Sender) Send(timestamp uint64, voltageScale, currentScale float32, measures []sample.Measure) {
	// Frames never mix scale factors.
	if s.blocks > 0 && (s.frame.VoltageScale != voltageScale || s.frame.CurrentScale != currentScale) {
		s.flush()
	}

	if s.blocks == 0 {
		if !s.sink.Ready() {
			s.dropped.Add(1)
			return
		}
		s.frame.Timestamp = timestamp
		s.frame.VoltageScale = voltageScale
		s.frame.CurrentScale = currentScale
		s.frame.Measures = s.frame.Measures[:0]
	}

	s.frame.Measures = append(s.frame.Measures, measures...)
	s.blocks++

	if s.blocks >= s.blocksPerFrame {
		s.flush()
	}
}

// Dropped returns the number of blocks that never reached a consumer.
func (s *Sender) Dropped() uint64 {
	return s.dropped.Load()
}

// Sent returns the number of frames delivered to at least one consumer.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

func (s *Sender) flush() {
	blocks := s.blocks
	s.blocks = 0

	s.buf = AppendFrame(s.buf[:0], &s.frame)
	if s.sink.BroadcastFrame(s.buf) == 0 {
		s.dropped.Add(uint64(blocks))
		return
	}
	s.sent.Add(1)
}
