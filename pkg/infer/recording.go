package infer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/synth"
)

// Column names tried in order; the first column is used when none match.
var recordingColumns = []string{"ir_waveform", "IR"}

var ErrEmptyRecording = errors.New("recording has no samples")

// ReadRecording parses a sensor CSV export and returns the PPG column.
func ReadRecording(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := pickColumn(header)

	var out []float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(out)+2, err)
		}
		v := math.NaN()
		if col < len(rec) {
			if f, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64); err == nil {
				v = f
			}
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrEmptyRecording
	}
	return dsp.NanToMean(out), nil
}

func pickColumn(header []string) int {
	for _, name := range recordingColumns {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i
			}
		}
	}
	return 0
}

// LoadRecording reads a sensor CSV file.
func LoadRecording(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadRecording(f)
}

// Prepare resamples a signal recorded at sourceFS to targetFS.
func Prepare(signal []float64, sourceFS, targetFS float64) []float64 {
	if sourceFS == targetFS {
		out := make([]float64, len(signal))
		copy(out, signal)
		return out
	}
	return dsp.ResampleRate(signal, sourceFS, targetFS)
}

// fallbackSeconds is the length of the synthetic stand-in recording.
const fallbackSeconds = 30

// LoadOrSynthetic loads path and resamples it to targetFS. When loading fails the
// error is logged and a synthetic recording at targetFS is returned instead.
func LoadOrSynthetic(path string, sourceFS, targetFS float64, log *zap.Logger) []float64 {
	if log == nil {
		log = zap.NewNop()
	}
	signal, err := LoadRecording(path)
	if err != nil {
		log.Warn("Failed to load recording, using synthetic data", zap.String("path", path), zap.Error(err))
		cfg := synth.DefaultConfig()
		cfg.SampleRate = targetFS
		return synth.Generate(cfg, int(fallbackSeconds*targetFS)).PPG
	}
	log.Info("Loaded recording", zap.String("path", path), zap.Int("samples", len(signal)), zap.Float64("fs", sourceFS))
	return Prepare(signal, sourceFS, targetFS)
}
