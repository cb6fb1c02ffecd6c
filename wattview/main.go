package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/scope"
	"github.com/itohio/wattmeter/pkg/stream"
)

func main() {
	var (
		serverFlag = flag.String("server", "", "Wattmeter server override (e.g., http://raspberrypi:8080)")
		configFlag = flag.String("config", "wattmeter.yaml", "Configuration file path")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *serverFlag != "" {
		cfg.Viewer.Server = *serverFlag
	}

	application := app.NewWithID("com.itohio.wattmeter")

	window := application.NewWindow("Wattmeter")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		window:     window,
	}

	toolbar := createToolbar(state)

	state.scopeWidget = scope.New(cfg)

	window.SetContent(container.NewBorder(
		toolbar,
		nil,
		nil,
		nil,
		state.scopeWidget,
	))
	window.SetOnClosed(func() {
		disconnect(state)
	})
	window.ShowAndRun()
}

// appState holds the application state. It is only touched from the UI
// thread.
type appState struct {
	cfg         *config.Config
	configPath  string
	remote      *stream.Remote
	scopeWidget *scope.ScopeWidget
	window      fyne.Window
	connectBtn  *widget.Button
	zerosBtn    *widget.Button
	factorsBtn  *widget.Button
	voltageSel  *widget.Select
	currentSel  *widget.Select

	cancel context.CancelFunc // Stops the subscription, nil if disconnected
	done   chan struct{}      // Closed when the subscription exits
}

// createToolbar creates the toolbar with Connect, Settings, calibration and
// range controls.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.zerosBtn = widget.NewButton("Zero", func() {
		handleCalibrateZeros(state)
	})
	state.zerosBtn.Disable()

	state.factorsBtn = widget.NewButton("Calibrate", func() {
		handleCalibrateFactors(state)
	})
	state.factorsBtn.Disable()

	state.voltageSel = newRangeSelect(state, "voltage")
	state.currentSel = newRangeSelect(state, "current")

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn, state.zerosBtn, state.factorsBtn),
		container.NewHBox(
			widget.NewLabel("U"), state.voltageSel,
			widget.NewLabel("I"), state.currentSel,
		),
		nil,
	)
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.cancel != nil {
		disconnect(state)
		fmt.Println("Disconnected from", state.cfg.Viewer.Server)
		return
	}

	remote := stream.NewRemote(state.cfg.Viewer.Server)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	state.remote = remote
	state.cancel = cancel
	state.done = done
	state.connectBtn.SetIcon(theme.LogoutIcon())
	state.zerosBtn.Enable()
	state.factorsBtn.Enable()

	go func() {
		defer close(done)
		err := remote.Subscribe(ctx, stream.Subscription{
			OnFrame: func(f stream.Frame) {
				fyne.Do(func() {
					state.scopeWidget.UpdateFrame(f)
				})
			},
			OnMeasures: func(m meter.CalculatedMeasures) {
				fyne.Do(func() {
					state.scopeWidget.UpdateMeasures(m)
				})
			},
		})
		if err != nil {
			fyne.Do(func() {
				// A newer connection may have replaced this one.
				if state.done == done {
					disconnect(state)
				}
				dialog.ShowError(err, state.window)
			})
		}
	}()

	go refreshRanges(state, remote)
	fmt.Println("Connected to", state.cfg.Viewer.Server)
}

// disconnect stops the subscription and resets the controls.
func disconnect(state *appState) {
	if state.cancel == nil {
		return
	}
	state.cancel()
	state.cancel = nil
	state.done = nil
	state.remote = nil

	state.connectBtn.SetIcon(theme.LoginIcon())
	state.zerosBtn.Disable()
	state.factorsBtn.Disable()
	state.voltageSel.Disable()
	state.currentSel.Disable()
}

// runCommand executes fn against the connected meter off the UI thread and
// reports failures in a dialog. The range controls are refreshed afterwards.
func runCommand(state *appState, what string, fn func(ctx context.Context, remote *stream.Remote) error) {
	remote := state.remote
	if remote == nil {
		return
	}

	go func() {
		err := fn(context.Background(), remote)
		if err != nil && !errors.Is(err, context.Canceled) {
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("%s failed: %w", what, err), state.window)
			})
		}
		refreshRanges(state, remote)
	}()
}

func handleCalibrateZeros(state *appState) {
	dialog.ShowConfirm("Zero calibration", "Short both inputs, then continue.", func(ok bool) {
		if !ok {
			return
		}
		runCommand(state, "Zero calibration", func(ctx context.Context, remote *stream.Remote) error {
			return remote.CalibrateZeros(ctx)
		})
	}, state.window)
}

func handleCalibrateFactors(state *appState) {
	reference := float32(state.cfg.Calibration.Reference)
	msg := fmt.Sprintf("Apply %g V to the voltage input, then continue.", reference)
	dialog.ShowConfirm("Factor calibration", msg, func(ok bool) {
		if !ok {
			return
		}
		runCommand(state, "Factor calibration", func(ctx context.Context, remote *stream.Remote) error {
			return remote.CalibrateFactors(ctx, reference)
		})
	}, state.window)
}
