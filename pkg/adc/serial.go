package adc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UART rate of the streamer firmware.
const DefaultBaudRate = 921600

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// portConn is the part of serial.Port used by Serial.
type portConn interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Serial reads raw sample blocks from the streamer firmware over a serial port.
type Serial struct {
	port        string
	baudRate    int
	bufSize     int
	readTimeout time.Duration

	conn      portConn
	blocks    chan Block
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	started   bool
	// session is bumped by Start and Stop. Blocks decoded under an older
	// session are dropped.
	session uint64
}

// New creates a new Serial source with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		bufSize:     bufSize,
		readTimeout: time.Second,
		blocks:      make(chan Block, bufSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetReadTimeout changes the port read timeout applied by Connect.
func (d *Serial) SetReadTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timeout > 0 {
		d.readTimeout = timeout
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts decoding blocks.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{
		BaudRate: d.baudRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := port.SetReadTimeout(d.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}

	d.attach(port)

	return nil
}

// attach starts decoding conn. Must be called with mu held.
func (d *Serial) attach(conn portConn) {
	d.conn = conn
	d.connected = true

	go d.readBlocks(conn)
}

// Start asks the firmware to sample the given channels. Blocks queued by a
// previous session are discarded.
func (d *Serial) Start(channels []Channel) error {
	cmd, err := EncodeStart(channels)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	d.session++
	d.drain()
	if _, err := d.conn.Write(cmd); err != nil {
		return fmt.Errorf("failed to send start command: %w", err)
	}
	d.started = true

	return nil
}

// Stop asks the firmware to stop sampling.
func (d *Serial) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || !d.started {
		return nil
	}

	d.started = false
	d.session++
	if _, err := d.conn.Write([]byte{CommandStop}); err != nil {
		return fmt.Errorf("failed to send stop command: %w", err)
	}
	if err := d.conn.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return nil
}

// Read blocks until the next block is available.
func (d *Serial) Read(ctx context.Context) (Block, error) {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()

	if !started {
		return Block{}, ErrNotStarted
	}

	select {
	case b, ok := <-d.blocks:
		if !ok {
			return Block{}, ErrClosed
		}
		return b, nil
	case <-ctx.Done():
		return Block{}, ctx.Err()
	}
}

// Close closes the connection and stops decoding.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false
	d.started = false

	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// drain discards queued blocks. Must be called with mu held.
func (d *Serial) drain() {
	for {
		select {
		case <-d.blocks:
		default:
			return
		}
	}
}

// sessionID returns the current session.
func (d *Serial) sessionID() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// push queues a block decoded under session. Blocks of an older session
// are dropped, so a restart never sees data framed before it.
func (d *Serial) push(session uint64, block Block) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if session != d.session {
		return
	}

	select {
	case d.blocks <- block:
	default:
		log.Printf("Block channel full, dropping block at %dus", block.Timestamp)
	}
}

// readBlocks decodes frames from the port until the context is cancelled.
// The decoder restarts on every session change, dropping any partial frame
// buffered from the previous session.
func (d *Serial) readBlocks(conn io.Reader) {
	defer close(d.blocks)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readBlocks: %v", r)
		}
	}()

	reader := bufio.NewReaderSize(conn, headerSize+2*MaxBlockWords)
	current := d.sessionID()
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		if session := d.sessionID(); session != current {
			reader.Reset(conn)
			current = session
		}

		block, err := DecodeBlock(reader)
		if err != nil {
			if errors.Is(err, io.ErrNoProgress) {
				// Read timeouts surface as empty reads.
				continue
			}
			if d.ctx.Err() == nil {
				log.Printf("Error reading from serial port: %v", err)
			}
			return
		}

		d.push(current, block)
	}
}
