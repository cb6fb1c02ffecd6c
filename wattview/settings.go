package main

import (
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// showSettingsDialog displays the viewer settings.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createServerTab(state),
		createCalibrationTab(state),
	)

	d := dialog.NewCustom("Settings", "Close", tabs, state.window)
	d.Resize(fyne.NewSize(500, 300))
	d.Show()
}

// createServerTab edits the wattmeter address. A running connection is
// re-established when the address changes.
func createServerTab(state *appState) *container.TabItem {
	serverEntry := widget.NewEntry()
	serverEntry.SetText(state.cfg.Viewer.Server)
	serverEntry.SetPlaceHolder("http://host:8080")

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Server", Widget: serverEntry},
		},
		OnSubmit: func() {
			if serverEntry.Text == "" || serverEntry.Text == state.cfg.Viewer.Server {
				return
			}

			wasConnected := state.cancel != nil
			state.cfg.Viewer.Server = serverEntry.Text
			if err := state.cfg.Save(state.configPath); err != nil {
				dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
				return
			}

			if wasConnected {
				disconnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Server", form)
}

// createCalibrationTab edits the factor calibration reference.
func createCalibrationTab(state *appState) *container.TabItem {
	referenceEntry := widget.NewEntry()
	referenceEntry.SetText(strconv.FormatFloat(state.cfg.Calibration.Reference, 'g', -1, 64))
	referenceEntry.Validator = func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("must be a positive number")
		}
		return nil
	}

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Reference (V)", Widget: referenceEntry},
		},
		OnSubmit: func() {
			v, err := strconv.ParseFloat(referenceEntry.Text, 64)
			if err != nil || v <= 0 {
				return
			}
			state.cfg.Calibration.Reference = v
			if err := state.cfg.Save(state.configPath); err != nil {
				dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
			}
		},
	}

	return container.NewTabItem("Calibration", form)
}
