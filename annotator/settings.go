package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pulsepeak/pkg/device"
	"github.com/itohio/pulsepeak/pkg/monitor"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createAnnotationTab(state),
		createMonitorTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func (s *appState) saveConfig() {
	if err := s.cfg.Save(s.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := device.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Map display name to actual port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	// Add current port if not in list
	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}
	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected == "" {
				return
			}
			selectedPort := portMap[portSelect.Selected]
			if selectedPort == "" {
				selectedPort = portSelect.Selected
			}
			baud := state.cfg.Serial.BaudRate
			if b, err := strconv.Atoi(baudEntry.Text); err == nil && b > 0 {
				baud = b
			}

			changed := state.cfg.Serial.Port != selectedPort || state.cfg.Serial.BaudRate != baud
			state.cfg.Serial.Port = selectedPort
			state.cfg.Serial.BaudRate = baud
			state.saveConfig()

			// Reconnect when the link changed under a running chain
			if changed && state.chain != nil && !state.useMock {
				handleConnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createAnnotationTab creates the Annotation configuration tab. Changes apply to
// sessions opened after the next reload.
func createAnnotationTab(state *appState) *container.TabItem {
	a := &state.cfg.Annotation
	removeEntry := floatEntry(a.RemoveSeconds, "%.3f")
	snapEntry := floatEntry(a.SnapSeconds, "%.3f")
	minHREntry := floatEntry(a.MinHR, "%.0f")
	maxHREntry := floatEntry(a.MaxHR, "%.0f")
	heightEntry := floatEntry(a.Height, "%.2f")
	prominenceEntry := floatEntry(a.Prominence, "%.2f")
	dirEntry := widget.NewEntry()
	dirEntry.SetText(a.Dir)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Remove radius (s)", Widget: removeEntry},
			{Text: "Snap window (s)", Widget: snapEntry},
			{Text: "Min HR (bpm)", Widget: minHREntry},
			{Text: "Max HR (bpm)", Widget: maxHREntry},
			{Text: "Peak height", Widget: heightEntry},
			{Text: "Peak prominence", Widget: prominenceEntry},
			{Text: "Output directory", Widget: dirEntry},
		},
		OnSubmit: func() {
			parseFloat(removeEntry, &a.RemoveSeconds)
			parseFloat(snapEntry, &a.SnapSeconds)
			parseFloat(minHREntry, &a.MinHR)
			parseFloat(maxHREntry, &a.MaxHR)
			parseFloat(heightEntry, &a.Height)
			parseFloat(prominenceEntry, &a.Prominence)
			if dirEntry.Text != "" {
				a.Dir = dirEntry.Text
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Annotation", form)
}

// createMonitorTab creates the live Monitor configuration tab.
func createMonitorTab(state *appState) *container.TabItem {
	m := &state.cfg.Monitor
	windowEntry := floatEntry(m.WindowSeconds, "%.1f")
	detectEntry := intEntry(m.DetectEvery)
	averageEntry := intEntry(m.Averaging)
	smoothEntry := intEntry(m.Smoothing)
	slopeWindowEntry := intEntry(m.SlopeWindow)
	slopeOrderEntry := intEntry(m.SlopeOrder)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window (seconds)", Widget: windowEntry},
			{Text: "Detect every (samples)", Widget: detectEntry},
			{Text: "Average samples (1=disabled)", Widget: averageEntry},
			{Text: "Moving average (1=disabled)", Widget: smoothEntry},
			{Text: "Slope window (odd)", Widget: slopeWindowEntry},
			{Text: "Slope order", Widget: slopeOrderEntry},
		},
		OnSubmit: func() {
			next := *m
			parseFloat(windowEntry, &next.WindowSeconds)
			parseInt(detectEntry, &next.DetectEvery)
			parseInt(averageEntry, &next.Averaging)
			parseInt(smoothEntry, &next.Smoothing)
			parseInt(slopeWindowEntry, &next.SlopeWindow)
			parseInt(slopeOrderEntry, &next.SlopeOrder)

			// Validate before anything is saved
			if _, err := monitor.New(next, 0); err != nil {
				dialog.ShowError(err, state.window)
				return
			}
			*m = next
			state.saveConfig()
			dialog.ShowInformation("Monitor", "Restart the application to apply the new monitor settings.", state.window)
		},
	}

	return container.NewTabItem("Monitor", form)
}

// createMockTab creates the Mock device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	mc := &state.cfg.Mock
	heartRateEntry := floatEntry(mc.HeartRate, "%.1f")
	variationEntry := floatEntry(mc.Variation, "%.3f")
	noiseLevelEntry := floatEntry(mc.NoiseLevel, "%.3f")
	baselineEntry := floatEntry(mc.Baseline, "%.0f")
	amplitudeEntry := floatEntry(mc.Amplitude, "%.0f")
	sampleRateEntry := widget.NewEntry()
	sampleRateEntry.SetText(mc.SampleRate.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Heart rate (bpm)", Widget: heartRateEntry},
			{Text: "Variation", Widget: variationEntry},
			{Text: "Noise level", Widget: noiseLevelEntry},
			{Text: "Baseline (counts)", Widget: baselineEntry},
			{Text: "Amplitude (counts)", Widget: amplitudeEntry},
			{Text: "Sample interval", Widget: sampleRateEntry},
		},
		OnSubmit: func() {
			parseFloat(heartRateEntry, &mc.HeartRate)
			parseFloat(variationEntry, &mc.Variation)
			parseFloat(noiseLevelEntry, &mc.NoiseLevel)
			parseFloat(baselineEntry, &mc.Baseline)
			parseFloat(amplitudeEntry, &mc.Amplitude)
			if sr, err := time.ParseDuration(sampleRateEntry.Text); err == nil && sr > 0 {
				mc.SampleRate = sr
			}
			state.saveConfig()
		},
	}

	return container.NewTabItem("Mock", form)
}

func floatEntry(v float64, format string) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, v))
	return e
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

// parseFloat stores the entry's value in dst; unparsable text leaves dst unchanged.
func parseFloat(e *widget.Entry, dst *float64) {
	if v, err := strconv.ParseFloat(e.Text, 64); err == nil {
		*dst = v
	}
}

func parseInt(e *widget.Entry, dst *int) {
	if v, err := strconv.Atoi(e.Text); err == nil {
		*dst = v
	}
}
