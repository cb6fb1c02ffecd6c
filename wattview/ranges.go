package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/stream"
)

const autoOption = "auto"

// newRangeSelect creates the range selector of an input. It stays disabled
// until the range state of the meter is known.
func newRangeSelect(state *appState, input string) *widget.Select {
	sel := widget.NewSelect(nil, nil)
	sel.PlaceHolder = "range"
	sel.Disable()
	sel.OnChanged = func(selected string) {
		handleRangeChange(state, input, selected)
	}
	return sel
}

// handleRangeChange pins the selected range or re-enables auto-ranging.
func handleRangeChange(state *appState, input, selected string) {
	index, err := parseRangeOption(selected)
	if err != nil {
		return
	}
	runCommand(state, "Range change", func(ctx context.Context, remote *stream.Remote) error {
		return remote.SetRange(ctx, input, index)
	})
}

// refreshRanges reads the range state and updates the selectors.
func refreshRanges(state *appState, remote *stream.Remote) {
	st, err := remote.Ranges(context.Background())
	if err != nil {
		log.Printf("Failed to read ranges: %v", err)
		fyne.Do(func() {
			dialog.ShowError(fmt.Errorf("failed to read ranges: %w", err), state.window)
		})
		return
	}
	fyne.Do(func() {
		if state.remote != remote {
			return
		}
		updateRangeSelect(state.voltageSel, st.Voltage)
		updateRangeSelect(state.currentSel, st.Current)
	})
}

// updateRangeSelect shows the state without triggering a change.
func updateRangeSelect(sel *widget.Select, st frontend.ChannelStatus) {
	onChanged := sel.OnChanged
	sel.OnChanged = nil
	sel.Options = rangeOptions(len(st.Zeros))
	sel.SetSelected(rangeOption(st))
	sel.OnChanged = onChanged
	sel.Enable()
}

// rangeOptions lists auto followed by every range index.
func rangeOptions(n int) []string {
	options := make([]string, 0, n+1)
	options = append(options, autoOption)
	for i := range n {
		options = append(options, strconv.Itoa(i))
	}
	return options
}

func rangeOption(st frontend.ChannelStatus) string {
	if st.Auto {
		return autoOption
	}
	return strconv.Itoa(st.Active)
}

// parseRangeOption returns the range index of an option, -1 for auto.
func parseRangeOption(option string) (int, error) {
	if option == autoOption {
		return -1, nil
	}
	index, err := strconv.Atoi(option)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid range %q", option)
	}
	return index, nil
}
