// Package dataset loads paired PPG/ECG recordings and turns them into normalised,
// labelled training windows.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/pulsepeak/pkg/dsp"
	"github.com/itohio/pulsepeak/pkg/peaks"
	"github.com/itohio/pulsepeak/pkg/synth"
)

// BIDMCSampleRate is the sampling rate of every BIDMC record.
const BIDMCSampleRate = 125.0

const (
	columnPPG = "PLETH"
	columnECG = "II"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrNoSubjects    = errors.New("no subjects loaded")
)

// Subject is one recording with both modalities on the same time base.
type Subject struct {
	ID         string
	SampleRate float64
	PPG        []float64
	ECG        []float64

	// Filled in by Label.
	Peaks  []int
	Labels []float64
}

// Duration returns the recording length in seconds.
func (s *Subject) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.PPG)) / s.SampleRate
}

// SubjectID extracts "01" from ".../bidmc_01_Signals.csv". Names without an
// underscore use the base name without extension.
func SubjectID(path string) string {
	base := filepath.Base(path)
	parts := strings.Split(base, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadBIDMC reads a BIDMC signals CSV file.
func LoadBIDMC(path string) (*Subject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s, err := ReadBIDMC(f, SubjectID(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadBIDMC parses a CSV stream with PLETH and II columns. Header names are matched
// after trimming whitespace. Missing or unparsable cells become NaN and are then
// replaced with the column mean.
func ReadBIDMC(r io.Reader, id string) (*Subject, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	ppgCol, ecgCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case columnPPG:
			ppgCol = i
		case columnECG:
			ecgCol = i
		}
	}
	if ppgCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnPPG)
	}
	if ecgCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnECG)
	}

	var ppg, ecg []float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(ppg)+2, err)
		}
		ppg = append(ppg, cell(rec, ppgCol))
		ecg = append(ecg, cell(rec, ecgCol))
	}

	return &Subject{
		ID:         id,
		SampleRate: BIDMCSampleRate,
		PPG:        dsp.NanToMean(ppg),
		ECG:        dsp.NanToMean(ecg),
	}, nil
}

func cell(rec []string, col int) float64 {
	if col >= len(rec) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// LoadDir loads every file in dir matching pattern concurrently. Files that fail to
// load are logged and skipped. Subjects are returned sorted by ID.
func LoadDir(ctx context.Context, dir, pattern string, log *zap.Logger) ([]*Subject, error) {
	if log == nil {
		log = zap.NewNop()
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	sort.Strings(files)

	loaded := make([]*Subject, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := LoadBIDMC(file)
			if err != nil {
				log.Warn("skipping record", zap.String("file", file), zap.Error(err))
				return nil
			}
			loaded[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	subjects := make([]*Subject, 0, len(loaded))
	for _, s := range loaded {
		if s != nil {
			subjects = append(subjects, s)
		}
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSubjects, dir, pattern)
	}
	sort.Slice(subjects, func(a, b int) bool { return subjects[a].ID < subjects[b].ID })

	log.Info("loaded subjects",
		zap.Int("count", len(subjects)),
		zap.Int("files", len(files)),
		zap.Float64("minutes", totalMinutes(subjects)))
	return subjects, nil
}

func totalMinutes(subjects []*Subject) float64 {
	var sec float64
	for _, s := range subjects {
		sec += s.Duration()
	}
	return sec / 60
}

// Synthetic generates n subjects of the given length with different heart rates.
// It stands in for the dataset when no records are available.
func Synthetic(n int, seconds float64, seed int64) []*Subject {
	out := make([]*Subject, n)
	for i := range out {
		cfg := synth.DefaultConfig()
		cfg.HeartRate = 55 + float64((i*17)%50)
		cfg.PTT = 0.2 + 0.02*float64(i%5)
		cfg.Seed = seed + int64(i)
		rec := synth.Generate(cfg, int(seconds*cfg.SampleRate))
		out[i] = &Subject{
			ID:         fmt.Sprintf("synth%02d", i+1),
			SampleRate: rec.SampleRate,
			PPG:        rec.PPG,
			ECG:        rec.ECG,
		}
	}
	return out
}

// Label detects R peaks on each subject's ECG and stores the transferred PPG peaks
// and labels. Subjects whose labelling fails are logged and dropped.
func Label(subjects []*Subject, l *peaks.Labeler, log *zap.Logger) []*Subject {
	if log == nil {
		log = zap.NewNop()
	}
	out := subjects[:0:0]
	for _, s := range subjects {
		res, err := l.Label(s.ECG, s.PPG, s.SampleRate)
		if err != nil {
			log.Warn("labelling failed", zap.String("subject", s.ID), zap.Error(err))
			continue
		}
		s.Peaks = res.PPGPeaks
		s.Labels = res.Labels
		log.Debug("labelled subject",
			zap.String("subject", s.ID),
			zap.Int("r_peaks", len(res.RPeaks)),
			zap.Int("ppg_peaks", len(res.PPGPeaks)))
		out = append(out, s)
	}
	return out
}

// SubjectIDs returns the IDs of subjects in order.
func SubjectIDs(subjects []*Subject) []string {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	return ids
}
