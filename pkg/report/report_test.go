package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulsepeak/pkg/train"
)

func TestWriteSessionHTML(t *testing.T) {
	signal := []float64{0, 0.5, 1, 0.5, 0, 0.5, 1, 0.5}
	var buf bytes.Buffer
	require.NoError(t, WriteSessionHTML(&buf, "session abc", signal, 4, []int{2, 6, 99}, []float64{0, 0.2, 0.9, 0.2, 0, 0.2, 0.9, 0.2}))

	html := buf.String()
	assert.Contains(t, html, "session abc")
	assert.Contains(t, html, "probability")
	assert.Contains(t, html, "peaks")
	assert.Contains(t, html, "2 peaks", "out of range peaks are skipped")

	assert.Error(t, WriteSessionHTML(&bytes.Buffer{}, "x", signal, 0, nil, nil))
}

func TestWriteEditableSessionHTML(t *testing.T) {
	signal := []float64{0, 0.5, 1, 0.5, 0, 0.5, 1, 0.5}
	var buf bytes.Buffer
	require.NoError(t, WriteEditableSessionHTML(&buf, "/api/sessions/3/toggle", "session abc", signal, 4, []int{2, 6}, nil))

	html := buf.String()
	assert.Contains(t, html, "session abc")
	assert.Contains(t, html, "goecharts_session.getZr()")
	assert.Contains(t, html, "convertFromPixel")
	assert.Contains(t, html, "time_s")
	assert.Contains(t, html, "toggle")

	var plain bytes.Buffer
	require.NoError(t, WriteSessionHTML(&plain, "session abc", signal, 4, []int{2, 6}, nil))
	assert.NotContains(t, plain.String(), "getZr")

	assert.Error(t, WriteEditableSessionHTML(&bytes.Buffer{}, "/t", "x", signal, 0, nil, nil))
}

func TestDecimation(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{0, 1},
		{maxPoints, 1},
		{maxPoints + 1, 2},
		{10 * maxPoints, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decimation(tt.n), "n=%d", tt.n)
	}
}

func TestSaveHistoryPNG(t *testing.T) {
	history := train.History{
		{Epoch: 1, TrainLoss: 0.7, ValLoss: 0.6, ValF1: 0.2},
		{Epoch: 2, TrainLoss: 0.5, ValLoss: 0.4, ValF1: 0.5},
		{Epoch: 3, TrainLoss: 0.4, ValLoss: 0.45, ValF1: 0.55},
	}
	path := filepath.Join(t.TempDir(), "plots", "history.png")
	require.NoError(t, SaveHistoryPNG(path, history))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.ErrorIs(t, SaveHistoryPNG(path, nil), ErrEmptyHistory)
}
