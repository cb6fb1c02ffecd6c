// Package pipeline runs the acquisition task: it reads calibrated measures
// from the front end, streams them, aggregates them and keeps the ranges
// tuned. Maintenance commands are executed inside the same loop so the
// front end has a single owner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/sample"
)

// ErrNotRunning is returned for commands issued while the loop is stopped.
var ErrNotRunning = errors.New("pipeline is not running")

// BlockSink receives every block of calibrated measures.
type BlockSink interface {
	Send(timestamp uint64, voltageScale, currentScale float32, measures []sample.Measure)
}

type command struct {
	run   func(ctx context.Context) error
	ctx   context.Context
	reply chan error
}

// Pipeline is the acquisition task.
type Pipeline struct {
	dual *frontend.Dual
	calc *meter.Calculated
	sink BlockSink

	commands chan command
	mu       sync.Mutex
	running  bool
	done     chan struct{} // Closed when the current run exits
	status   atomic.Pointer[frontend.Status]
	blocks   atomic.Uint64
}

// New creates a pipeline. sink may be nil.
func New(dual *frontend.Dual, calc *meter.Calculated, sink BlockSink) *Pipeline {
	p := &Pipeline{
		dual:     dual,
		calc:     calc,
		sink:     sink,
		commands: make(chan command),
	}
	p.snapshot()
	return p
}

// Run acquires until ctx is cancelled or the source fails. Acquisition is
// stopped on return.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline is already running")
	}
	p.running = true
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		close(done)
		p.mu.Unlock()
	}()

	if err := p.dual.Start(); err != nil {
		return err
	}
	defer p.dual.Stop()

	p.rangesChanged()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-p.commands:
			err := cmd.run(cmd.ctx)
			p.rangesChanged()
			cmd.reply <- err
			continue
		default:
		}

		timestamp, measures, err := p.dual.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("acquisition failed: %w", err)
		}
		p.blocks.Add(1)

		if p.sink != nil {
			v, c := p.calc.ScaleFactors()
			p.sink.Send(timestamp, v, c, measures)
		}
		p.calc.Add(measures...)

		changed, err := p.dual.AutoRange()
		if err != nil {
			log.Printf("Auto-range failed: %v", err)
		}
		if changed {
			p.rangesChanged()
		}
	}
}

// Blocks returns the number of blocks processed.
func (p *Pipeline) Blocks() uint64 {
	return p.blocks.Load()
}

// Status returns the range state as of the last change.
func (p *Pipeline) Status() frontend.Status {
	return *p.status.Load()
}

// SetRange pins a range of the named input; index equal to the number of
// ranges re-enables auto-ranging.
func (p *Pipeline) SetRange(ctx context.Context, input string, index int) error {
	return p.do(ctx, func(context.Context) error {
		return p.dual.SetRange(input, index)
	})
}

// CalibrateZeros measures the zeros of both inputs with acquisition paused.
func (p *Pipeline) CalibrateZeros(ctx context.Context) error {
	return p.do(ctx, p.dual.CalibrateZeros)
}

// CalibrateFactors derives the voltage scale factors from the reference.
func (p *Pipeline) CalibrateFactors(ctx context.Context, reference float32) error {
	return p.do(ctx, func(ctx context.Context) error {
		return p.dual.CalibrateFactors(ctx, reference)
	})
}

// do hands fn to the loop and waits for its result.
func (p *Pipeline) do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	running, done := p.running, p.done
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	cmd := command{run: fn, ctx: ctx, reply: make(chan error, 1)}
	select {
	case p.commands <- cmd:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rangesChanged propagates the active scale factors to the aggregator and
// publishes a new status snapshot.
func (p *Pipeline) rangesChanged() {
	p.calc.SetScaleFactors(p.dual.ScaleFactors())
	p.snapshot()
}

func (p *Pipeline) snapshot() {
	st := p.dual.Status()
	p.status.Store(&st)
}
