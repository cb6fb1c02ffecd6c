package stream

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/sample"
)

func TestRemote_StreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"http://localhost:8080/", "ws://localhost:8080/ws"},
		{"https://meter.lan", "wss://meter.lan/ws"},
		{"meter.lan:8080", "ws://meter.lan:8080/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewRemote(tt.base).StreamURL(), tt.base)
	}
}

func TestRemote_API(t *testing.T) {
	ctrl := newTestController()
	measures := &fakeMeasures{}
	srv := httptest.NewServer(NewRouter(NewHandler(NewHub(), ctrl, measures, 5)))
	defer srv.Close()

	ctx := context.Background()
	r := NewRemote(srv.URL)

	_, err := r.Measures(ctx)
	assert.ErrorIs(t, err, ErrNoMeasures)

	measures.m, measures.ok = meter.CalculatedMeasures{Frequency: 50}, true
	m, err := r.Measures(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(50), m.Frequency)

	st, err := r.Ranges(ctx)
	require.NoError(t, err)
	assert.Equal(t, "voltage", st.Voltage.Name)
	assert.Equal(t, []uint16{4, 5, 6}, st.Current.Zeros)

	require.NoError(t, r.SetRange(ctx, "current", 2))
	assert.Equal(t, "current", ctrl.input)
	assert.Equal(t, 2, ctrl.index)

	require.NoError(t, r.SetRange(ctx, "voltage", -1))
	assert.Equal(t, 3, ctrl.index, "auto is the range count")

	err = r.SetRange(ctx, "power", 0)
	assert.ErrorContains(t, err, "unknown input")

	require.NoError(t, r.CalibrateZeros(ctx))
	assert.Equal(t, 1, ctrl.zeros)

	require.NoError(t, r.CalibrateFactors(ctx, 0))
	assert.Equal(t, float32(5), ctrl.reference)
	require.NoError(t, r.CalibrateFactors(ctx, 2.5))
	assert.Equal(t, float32(2.5), ctrl.reference)

	ctrl.err = assert.AnError
	assert.ErrorContains(t, r.CalibrateZeros(ctx), assert.AnError.Error())
}

func TestRemote_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(NewHandler(hub, newTestController(), &fakeMeasures{}, 5)))
	defer srv.Close()

	frames := make(chan Frame, 1)
	measures := make(chan meter.CalculatedMeasures, 1)

	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- NewRemote(srv.URL).Subscribe(subCtx, Subscription{
			OnFrame:    func(f Frame) { frames <- f },
			OnMeasures: func(m meter.CalculatedMeasures) { measures <- m },
		})
	}()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastFrame(AppendFrame(nil, &Frame{Timestamp: 9, VoltageScale: 2, CurrentScale: 0.5, Measures: []sample.Measure{{Voltage: 1, Current: 2}}}))
	select {
	case f := <-frames:
		assert.Equal(t, uint64(9), f.Timestamp)
		assert.Equal(t, float32(2), f.VoltageScale)
		assert.Equal(t, []sample.Measure{{Voltage: 1, Current: 2}}, f.Measures)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	hub.BroadcastMeasures(meter.CalculatedMeasures{Periods: 50})
	select {
	case m := <-measures:
		assert.Equal(t, 50, m.Periods)
	case <-time.After(2 * time.Second):
		t.Fatal("no measures received")
	}

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestRemote_SubscribeDialFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	err := NewRemote(url).Subscribe(context.Background(), Subscription{})
	assert.Error(t, err)
}
