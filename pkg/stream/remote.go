package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/meter"
)

// ErrNoMeasures is returned by Remote.Measures before the first snapshot.
var ErrNoMeasures = errors.New("no measures published yet")

// Remote talks to a running wattmeter over its HTTP API and websocket.
type Remote struct {
	base   string
	client *http.Client
}

// NewRemote creates a client for the server at base (e.g. http://host:8080).
func NewRemote(base string) *Remote {
	return &Remote{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// StreamURL returns the websocket endpoint.
func (r *Remote) StreamURL() string {
	switch {
	case strings.HasPrefix(r.base, "https://"):
		return "wss://" + strings.TrimPrefix(r.base, "https://") + "/ws"
	case strings.HasPrefix(r.base, "http://"):
		return "ws://" + strings.TrimPrefix(r.base, "http://") + "/ws"
	default:
		return "ws://" + r.base + "/ws"
	}
}

// Measures returns the latest snapshot.
func (r *Remote) Measures(ctx context.Context) (meter.CalculatedMeasures, error) {
	var m meter.CalculatedMeasures
	status, err := r.call(ctx, http.MethodGet, "/api/measures", &m)
	if err != nil {
		return m, err
	}
	if status == http.StatusNoContent {
		return m, ErrNoMeasures
	}
	return m, nil
}

// Ranges returns the range state of both inputs.
func (r *Remote) Ranges(ctx context.Context) (frontend.Status, error) {
	var st frontend.Status
	_, err := r.call(ctx, http.MethodGet, "/api/ranges", &st)
	return st, err
}

// SetRange pins a range of input; index < 0 re-enables auto-ranging.
func (r *Remote) SetRange(ctx context.Context, input string, index int) error {
	value := "auto"
	if index >= 0 {
		value = strconv.Itoa(index)
	}
	_, err := r.call(ctx, http.MethodPut, "/api/ranges/"+url.PathEscape(input)+"?index="+value, nil)
	return err
}

// CalibrateZeros asks the meter to measure its zeros.
func (r *Remote) CalibrateZeros(ctx context.Context) error {
	_, err := r.call(ctx, http.MethodPost, "/api/calibrate/zeros", nil)
	return err
}

// CalibrateFactors asks the meter to derive its voltage factors. A zero
// reference uses the server default.
func (r *Remote) CalibrateFactors(ctx context.Context, reference float32) error {
	path := "/api/calibrate/factors"
	if reference != 0 {
		path += "?reference=" + strconv.FormatFloat(float64(reference), 'g', -1, 32)
	}
	_, err := r.call(ctx, http.MethodPost, path, nil)
	return err
}

func (r *Remote) call(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, body.Error)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Subscription receives the websocket stream.
type Subscription struct {
	OnFrame    func(Frame)
	OnMeasures func(meter.CalculatedMeasures)
}

// Subscribe connects to the stream and delivers frames and measures until
// ctx is cancelled (returning nil) or the connection fails.
func (r *Remote) Subscribe(ctx context.Context, sub Subscription) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", r.StreamURL(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream read failed: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			f, err := DecodeFrame(data)
			if err != nil {
				log.Printf("Dropping malformed frame: %v", err)
				continue
			}
			if sub.OnFrame != nil {
				sub.OnFrame(f)
			}
		case websocket.TextMessage:
			var msg struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Dropping malformed message: %v", err)
				continue
			}
			if msg.Type != "measures" || sub.OnMeasures == nil {
				continue
			}
			var m meter.CalculatedMeasures
			if err := json.Unmarshal(msg.Payload, &m); err != nil {
				log.Printf("Dropping malformed measures: %v", err)
				continue
			}
			sub.OnMeasures(m)
		}
	}
}
