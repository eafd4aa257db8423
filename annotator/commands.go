package main

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pulsepeak/pkg/device"
)

// commandPanel sends the sensor's text commands: subject profile and measurement control.
type commandPanel struct {
	state   *appState
	cmd     device.Commands
	content fyne.CanvasObject

	userEntry *widget.Entry
	tagEntry  *widget.Entry
	ageEntry  *widget.Entry
	sexSelect *widget.RadioGroup
	buttons   []*widget.Button
}

func createCommandPanel(state *appState) *commandPanel {
	p := &commandPanel{
		state:     state,
		userEntry: widget.NewEntry(),
		tagEntry:  widget.NewEntry(),
		ageEntry:  widget.NewEntry(),
		sexSelect: widget.NewRadioGroup([]string{string(device.Male), string(device.Female)}, nil),
	}
	p.userEntry.SetPlaceHolder("name")
	p.tagEntry.SetPlaceHolder("rest, exercise, ...")
	p.ageEntry.SetPlaceHolder("years")
	p.sexSelect.Horizontal = true

	profileBtn := widget.NewButton("Send profile", p.sendProfile)
	startBtn := widget.NewButton("Start", func() { p.run("start", p.cmd.Start) })
	retryBtn := widget.NewButton("Retry", func() { p.run("retry", p.cmd.Retry) })
	statusBtn := widget.NewButton("Status", func() { p.run("status", p.cmd.Status) })
	helpBtn := widget.NewButton("Help", func() { p.run("help", p.cmd.Help) })
	p.buttons = []*widget.Button{profileBtn, startBtn, retryBtn, statusBtn, helpBtn}

	form := widget.NewForm(
		widget.NewFormItem("User", p.userEntry),
		widget.NewFormItem("Tag", p.tagEntry),
		widget.NewFormItem("Age", p.ageEntry),
		widget.NewFormItem("Sex", p.sexSelect),
	)
	p.content = container.NewVBox(
		form,
		profileBtn,
		container.NewGridWithColumns(4, startBtn, retryBtn, statusBtn, helpBtn),
		widget.NewSeparator(),
	)
	p.setDevice(nil)
	return p
}

// setDevice enables the buttons for a connected device, or disables them for nil.
func (p *commandPanel) setDevice(dev device.Device) {
	p.cmd = device.Commands{Device: dev}
	for _, b := range p.buttons {
		if dev == nil {
			b.Disable()
		} else {
			b.Enable()
		}
	}
}

func (p *commandPanel) user() string {
	return strings.TrimSpace(p.userEntry.Text)
}

func (p *commandPanel) run(name string, f func() error) {
	if p.cmd.Device == nil {
		return
	}
	if err := f(); err != nil {
		dialog.ShowError(fmt.Errorf("%s failed: %w", name, err), p.state.window)
	}
}

// sendProfile sends every filled-in profile field.
func (p *commandPanel) sendProfile() {
	if p.cmd.Device == nil {
		return
	}
	var errs []string
	if v := p.user(); v != "" {
		if err := p.cmd.SetUser(v); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if v := strings.TrimSpace(p.tagEntry.Text); v != "" {
		if err := p.cmd.SetTag(v); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if v := strings.TrimSpace(p.ageEntry.Text); v != "" {
		age, err := strconv.Atoi(v)
		if err == nil {
			err = p.cmd.SetAge(age)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("age %q: %v", v, err))
		}
	}
	if v := p.sexSelect.Selected; v != "" {
		if err := p.cmd.SetSex(device.Sex(v)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		dialog.ShowError(fmt.Errorf("profile: %s", strings.Join(errs, "; ")), p.state.window)
	}
}
