package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var annotationHeader = []string{"peak_index", "peak_time_s", "peak_value", "rr_interval_ms"}

// CSVSink writes corrected peak lists as CSV files in Dir.
type CSVSink struct {
	Dir string
}

// FileName is peaks_<first 8 chars of id>_<YYYYmmdd_HHMMSS>.csv.
func FileName(sessionID string, now time.Time) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("peaks_%s_%s.csv", short, now.Format("20060102_150405"))
}

// Write stores peaks of signal sampled at fs and returns the file path. The RR
// interval of the first peak is left empty.
func (s CSVSink) Write(sessionID string, peaks []int, signal []float64, fs float64, now time.Time) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create annotation directory: %w", err)
	}
	path := filepath.Join(s.Dir, FileName(sessionID, now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteAnnotations(f, peaks, signal, fs); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// WriteAnnotations writes the annotation table to w.
func WriteAnnotations(w io.Writer, peaks []int, signal []float64, fs float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(annotationHeader); err != nil {
		return err
	}
	for i, p := range peaks {
		if p < 0 || p >= len(signal) {
			return fmt.Errorf("peak %d out of range [0, %d)", p, len(signal))
		}
		rr := ""
		if i > 0 {
			rr = formatFloat(float64(p-peaks[i-1]) * 1000 / fs)
		}
		row := []string{strconv.Itoa(p), formatFloat(float64(p) / fs), formatFloat(signal[p]), rr}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAnnotations returns the peak indices of an annotation file.
func ReadAnnotations(r io.Reader) ([]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) == 0 || header[0] != annotationHeader[0] {
		return nil, fmt.Errorf("unexpected annotation header %v", header)
	}
	var peaks []int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return peaks, nil
		}
		if err != nil {
			return nil, err
		}
		p, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(peaks)+2, err)
		}
		peaks = append(peaks, p)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
