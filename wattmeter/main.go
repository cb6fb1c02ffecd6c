package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/itohio/wattmeter/pkg/calibration"
	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/pipeline"
	"github.com/itohio/wattmeter/pkg/slot"
	"github.com/itohio/wattmeter/pkg/stream"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "wattmeter.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated ADC instead of serial port")
		listenFlag = flag.String("listen", "", "HTTP listen address override (e.g., :8080)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *listenFlag != "" {
		cfg.Stream.Listen = *listenFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag); err != nil {
		log.Fatalf("wattmeter: %v", err)
	}
	log.Println("Stopped")
}

func run(ctx context.Context, cfg *config.Config, useMock bool) error {
	hw, err := openHardware(cfg, useMock)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Printf("Failed to close hardware: %v", err)
		}
	}()

	dual, err := newFrontEnd(ctx, cfg, hw, calibration.NewFileStore(cfg.Calibration.Store))
	if err != nil {
		return fmt.Errorf("failed to initialize front end: %w", err)
	}

	calc := meter.New(cfg)
	latest := slot.New[meter.CalculatedMeasures]()
	hub := stream.NewHub()
	calc.OnPublish(latest.Put)
	calc.OnPublish(hub.BroadcastMeasures)

	p := pipeline.New(dual, calc, stream.NewSender(hub, cfg.Stream.BlocksPerFrame))

	server := &http.Server{
		Addr:              cfg.Stream.Listen,
		Handler:           stream.NewRouter(stream.NewHandler(hub, p, latest, float32(cfg.Calibration.Reference))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { hub.Run(ctx) })
	wg.Go(func() { present(ctx, latest) })

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting stream server on %s", cfg.Stream.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- p.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
		runErr = <-pipelineDone
	case runErr = <-pipelineDone:
	case runErr = <-serverErr:
		cancel()
		<-pipelineDone
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shut down stream server: %v", err)
	}
	wg.Wait()

	return runErr
}

// present logs every calculated snapshot.
func present(ctx context.Context, latest *slot.Slot[meter.CalculatedMeasures]) {
	for {
		m, err := latest.Get(ctx)
		if err != nil {
			return
		}
		log.Printf("U=%.1fV I=%.3fA P=%.1fW Q=%.1fvar S=%.1fVA PF=%.3f f=%.2fHz",
			m.Voltage.RMS, m.Current.RMS,
			m.Power.Active, m.Power.Reactive, m.Power.Apparent,
			m.Power.Factor, m.Frequency)
	}
}
