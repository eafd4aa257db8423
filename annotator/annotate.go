package main

import (
	"context"
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/scope"
)

const methodModel = "model"

// createAnnotateView creates the session picker, the editing toolbar and the scope.
func createAnnotateView(state *appState) fyne.CanvasObject {
	state.sessionSelect = widget.NewSelect(nil, func(string) {
		state.selectSession(state.sessionSelect.SelectedIndex())
	})
	state.sessionSelect.PlaceHolder = "(no sessions)"

	methods := []string{string(annotate.MethodAuto), string(annotate.MethodAdaptive)}
	if state.detector != nil {
		methods = append(methods, methodModel)
	}
	methodSelect := widget.NewSelect(methods, nil)
	methodSelect.SetSelected(string(annotate.MethodAuto))

	reloadBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), state.reload)
	detectBtn := widget.NewButtonWithIcon("Detect", theme.SearchIcon(), func() {
		state.detect(methodSelect.Selected)
	})
	state.undoBtn = widget.NewButtonWithIcon("", theme.ContentUndoIcon(), state.undo)
	state.undoBtn.Disable()
	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), state.save)
	badBtn := widget.NewButtonWithIcon("Bad", theme.CancelIcon(), state.markBad)
	nextBtn := widget.NewButtonWithIcon("", theme.MediaSkipNextIcon(), state.next)
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.annotateScope.OnTapped(state.toggle)
	state.summaryLabel = widget.NewLabel("")

	toolbar := container.NewBorder(
		nil,
		nil,
		container.NewHBox(reloadBtn, settingsBtn),
		container.NewHBox(methodSelect, detectBtn, state.undoBtn, saveBtn, badBtn, nextBtn),
		state.sessionSelect,
	)

	state.window.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeyS:
			state.save()
		case fyne.KeyB:
			state.markBad()
		case fyne.KeyN:
			state.next()
		case fyne.KeyU, fyne.KeyBackspace:
			state.undo()
		}
	})

	return container.NewBorder(toolbar, state.summaryLabel, nil, nil, state.annotateScope)
}

// refreshSessions updates the picker labels, e.g. after a status change.
func (s *appState) refreshSessions() {
	s.sessionSelect.SetOptions(s.ws.Labels())
	if s.current >= 0 && s.current < s.ws.Len() {
		s.sessionSelect.SetSelectedIndex(s.current)
	}
}

// selectSession opens the session at idx in a fresh editor.
func (s *appState) selectSession(idx int) {
	if idx < 0 || (idx == s.current && s.editor != nil) {
		return
	}
	editor, err := s.ws.Open(idx)
	if err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.current = idx
	s.editor = editor
	if s.sessionSelect.SelectedIndex() != idx {
		s.sessionSelect.SetSelectedIndex(idx)
	}
	s.annotateScope.SetView(0, 0)
	s.showEditor()
}

// showEditor pushes the editor's signal and peaks to the scope.
func (s *appState) showEditor() {
	if s.editor == nil {
		s.annotateScope.SetTrace(scope.Trace{})
		s.summaryLabel.SetText("")
		s.undoBtn.Disable()
		return
	}
	sum := s.editor.Summary()
	s.annotateScope.SetTrace(scope.Trace{
		Signal:     s.editor.Signal(),
		SampleRate: s.editor.SampleRate(),
		Peaks:      s.editor.Peaks(),
		Label:      fmt.Sprintf("%.1f bpm", sum.HR),
	})
	s.summaryLabel.SetText(summaryText(sum, s.ws.Stats().Pending))
	if s.editor.CanUndo() {
		s.undoBtn.Enable()
	} else {
		s.undoBtn.Disable()
	}
}

func (s *appState) toggle(t float64) {
	if s.editor == nil {
		return
	}
	edit, err := s.editor.Toggle(t)
	if err != nil {
		s.log.Debug("Toggle ignored", zap.Float64("time", t), zap.Error(err))
		return
	}
	s.log.Debug("Peak edited", zap.String("kind", string(edit.Kind)), zap.Int("index", edit.Index))
	s.showEditor()
}

func (s *appState) detect(method string) {
	if s.editor == nil {
		return
	}
	if method == methodModel {
		if _, err := s.editor.DetectModel(s.detector, s.modelRate); err != nil {
			dialog.ShowError(fmt.Errorf("model detection failed: %w", err), s.window)
			return
		}
	} else {
		s.editor.Detect(annotate.Method(method))
	}
	s.showEditor()
}

func (s *appState) undo() {
	if s.editor == nil || !s.editor.CanUndo() {
		return
	}
	if err := s.editor.Undo(); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.showEditor()
}

func (s *appState) save() {
	if s.editor == nil {
		return
	}
	path, err := s.ws.Save(s.current, s.editor)
	if err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.log.Info("Saved", zap.String("path", path))
	s.advance()
}

func (s *appState) markBad() {
	if s.editor == nil {
		return
	}
	if err := s.ws.MarkBad(s.current); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.advance()
}

func (s *appState) next() {
	s.selectSession(s.ws.NextPending(s.current))
}

// advance refreshes the labels and moves on to the next pending session.
func (s *appState) advance() {
	s.refreshSessions()
	s.next()
	s.showEditor()
}

// reload fetches the session list again and drops the open editor.
func (s *appState) reload() {
	if err := s.ws.Reload(context.Background()); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.current, s.editor = -1, nil
	s.sessionSelect.ClearSelected()
	s.refreshSessions()
	s.showEditor()
	if s.ws.Len() > 0 {
		s.selectSession(s.ws.NextPending(-1))
	}
}

// summaryText is the status line under the scope.
func summaryText(sum annotate.Summary, pending int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d peaks in %.1f s | HR %.1f bpm | SDNN %.1f ms", sum.Peaks, sum.Duration, sum.HR, sum.SDNN)
	if sum.HRV.Valid() {
		fmt.Fprintf(&b, " | RMSSD %.1f ms | pNN50 %.1f%%", sum.HRV.RMSSD, sum.HRV.PNN50)
	}
	fmt.Fprintf(&b, " | quality %d", sum.Quality)
	if !sum.Plausible {
		b.WriteString(" | implausible heart rate")
	}
	fmt.Fprintf(&b, " | %d pending", pending)
	return b.String()
}
