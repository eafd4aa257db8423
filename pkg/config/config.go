package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Signal     SignalConfig     `yaml:"signal"`
	Labels     LabelsConfig     `yaml:"labels"`
	Model      ModelConfig      `yaml:"model"`
	Train      TrainConfig      `yaml:"train"`
	Inference  InferenceConfig  `yaml:"inference"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Store      StoreConfig      `yaml:"store"`
	Serial     SerialConfig     `yaml:"serial"`
	Mock       MockConfig       `yaml:"mock"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SignalConfig describes the common sampling grid used for training and inference.
type SignalConfig struct {
	SampleRate    float64 `yaml:"sample_rate"`    // Hz, BIDMC records are 125 Hz
	WindowSeconds float64 `yaml:"window_seconds"` // Window length in seconds
	StrideRatio   float64 `yaml:"stride_ratio"`   // Training stride as a fraction of the window (0.5 = 50% overlap)
}

// WindowSize returns the window length in samples.
func (s SignalConfig) WindowSize() int {
	return int(s.WindowSeconds * s.SampleRate)
}

// Stride returns the training stride in samples.
func (s SignalConfig) Stride() int {
	stride := int(float64(s.WindowSize()) * s.StrideRatio)
	if stride < 1 {
		stride = 1
	}
	return stride
}

// LabelsConfig contains the ECG R-peak detector and PTT label transfer parameters.
type LabelsConfig struct {
	QRSLowHz        float64 `yaml:"qrs_low_hz"`
	QRSHighHz       float64 `yaml:"qrs_high_hz"`
	SmoothSeconds   float64 `yaml:"smooth_seconds"` // Gaussian sigma in seconds
	Percentile      float64 `yaml:"percentile"`     // Height threshold percentile of the smoothed energy
	MinRRSeconds    float64 `yaml:"min_rr_seconds"` // Minimum distance between R peaks
	PTTMinSeconds   float64 `yaml:"ptt_min_seconds"`
	PTTMaxSeconds   float64 `yaml:"ptt_max_seconds"`
	LabelHalfWidth  int     `yaml:"label_half_width"` // Samples marked positive on each side of a peak
	FilePattern     string  `yaml:"file_pattern"`
	DatasetDir      string  `yaml:"dataset_dir"`
	DatasetFallback bool    `yaml:"dataset_fallback"` // Use synthetic subjects when the directory is empty
}

// ModelConfig contains the Performer architecture.
type ModelConfig struct {
	DModel     int     `yaml:"d_model"`
	Heads      int     `yaml:"heads"`
	Layers     int     `yaml:"layers"`
	Features   int     `yaml:"features"` // Random features per head
	FFMultiple int     `yaml:"ff_multiple"`
	Dropout    float64 `yaml:"dropout"`
	Seed       int64   `yaml:"seed"`
}

// TrainConfig contains optimisation parameters.
type TrainConfig struct {
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"weight_decay"`
	ClipNorm    float64 `yaml:"clip_norm"`
	ValFraction float64 `yaml:"val_fraction"`
	Seed        int64   `yaml:"seed"`
	Checkpoint  string  `yaml:"checkpoint"`
	LogEvery    int     `yaml:"log_every"`
}

// InferenceConfig contains sliding-window inference parameters.
type InferenceConfig struct {
	StrideDivisor    int     `yaml:"stride_divisor"` // stride = window / divisor
	Threshold        float64 `yaml:"threshold"`
	MinPeakSeconds   float64 `yaml:"min_peak_seconds"`
	SourceSampleRate float64 `yaml:"source_sample_rate"` // ESP32 recordings
	BatchSize        int     `yaml:"batch_size"`
}

// AnnotationConfig contains the manual annotation tool parameters.
type AnnotationConfig struct {
	Dir           string        `yaml:"dir"`
	StatusFile    string        `yaml:"status_file"`
	Listen        string        `yaml:"listen"`
	RemoveSeconds float64       `yaml:"remove_seconds"` // Clicks closer than this to a peak remove it
	SnapSeconds   float64       `yaml:"snap_seconds"`   // Half window searched for a local maximum when adding
	MinHR         float64       `yaml:"min_hr"`
	MaxHR         float64       `yaml:"max_hr"`
	Height        float64       `yaml:"height"`
	Prominence    float64       `yaml:"prominence"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	History       int           `yaml:"history"` // Undo depth
}

// StoreConfig contains the session store connection.
type StoreConfig struct {
	DSN     string `yaml:"dsn"`      // postgres://..., mysql://..., or a sqlite file path
	EnvFile string `yaml:"env_file"` // Optional .env with credentials referenced by the DSN
}

// SerialConfig contains serial port configuration for the ESP32 sensor.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	HeartRate  float64       `yaml:"heart_rate"`  // BPM
	Variation  float64       `yaml:"variation"`   // Beat-to-beat jitter (fraction of RR)
	NoiseLevel float64       `yaml:"noise_level"` // Additive noise relative to pulse amplitude
	Baseline   float64       `yaml:"baseline"`    // DC level in ADC counts
	Amplitude  float64       `yaml:"amplitude"`   // Pulse amplitude in ADC counts
	SampleRate time.Duration `yaml:"sample_rate"` // Sample interval
	Seed       int64         `yaml:"seed"`
}

// MonitorConfig contains live acquisition parameters.
type MonitorConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"` // Samples older than this are dropped
	DetectEvery   int     `yaml:"detect_every"`   // Re-detect beats every N samples
	Averaging     int     `yaml:"averaging"`      // Raw samples averaged into one (757 Hz ESP32 -> ~126 Hz with 6)
	Smoothing     int     `yaml:"smoothing"`      // Moving average over converted samples, 1 disables
	SlopeWindow   int     `yaml:"slope_window"`   // Savitzky-Golay window, odd
	SlopeOrder    int     `yaml:"slope_order"`    // Savitzky-Golay polynomial order
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Signal: SignalConfig{
			SampleRate:    125,
			WindowSeconds: 4,
			StrideRatio:   0.5,
		},
		Labels: LabelsConfig{
			QRSLowHz:        5,
			QRSHighHz:       25,
			SmoothSeconds:   0.02,
			Percentile:      70,
			MinRRSeconds:    0.4,
			PTTMinSeconds:   0.15,
			PTTMaxSeconds:   0.35,
			LabelHalfWidth:  3, // ±24 ms @ 125 Hz
			FilePattern:     "bidmc_*_Signals.csv",
			DatasetDir:      "datasets/bidmc",
			DatasetFallback: true,
		},
		Model: ModelConfig{
			DModel:     64,
			Heads:      4,
			Layers:     4,
			Features:   64,
			FFMultiple: 4,
			Dropout:    0.1,
			Seed:       1,
		},
		Train: TrainConfig{
			Epochs:      50,
			BatchSize:   64,
			LR:          1e-3,
			WeightDecay: 0.01,
			ClipNorm:    1.0,
			ValFraction: 0.15,
			Seed:        42,
			Checkpoint:  "best_performer.msgpack",
			LogEvery:    10,
		},
		Inference: InferenceConfig{
			StrideDivisor:    4,
			Threshold:        0.5,
			MinPeakSeconds:   0.4,
			SourceSampleRate: 757,
			BatchSize:        32,
		},
		Annotation: AnnotationConfig{
			Dir:           "annotations",
			StatusFile:    "annotations/session_status.json",
			Listen:        ":8050",
			RemoveSeconds: 0.1,
			SnapSeconds:   0.05,
			MinHR:         40,
			MaxHR:         200,
			Height:        0.3,
			Prominence:    0.1,
			CacheTTL:      30 * time.Minute,
			History:       50,
		},
		Store: StoreConfig{
			DSN:     "sessions.db",
			EnvFile: ".env",
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		Mock: MockConfig{
			HeartRate:  72,
			Variation:  0.03,
			NoiseLevel: 0.02,
			Baseline:   120000,
			Amplitude:  4000,
			SampleRate: 8 * time.Millisecond, // 125 Hz
			Seed:       7,
		},
		Monitor: MonitorConfig{
			WindowSeconds: 10,
			DetectEvery:   25,
			Averaging:     1,
			Smoothing:     1,
			SlopeWindow:   11,
			SlopeOrder:    3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolveDSN loads the optional env file and expands environment references in the DSN.
// A missing env file is not an error.
func (s StoreConfig) ResolveDSN() (string, error) {
	if s.EnvFile != "" {
		if err := godotenv.Load(s.EnvFile); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to load env file %s: %w", s.EnvFile, err)
		}
	}
	return os.ExpandEnv(s.DSN), nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Signal.SampleRate == 0 {
		c.Signal.SampleRate = def.Signal.SampleRate
	}
	if c.Signal.WindowSeconds == 0 {
		c.Signal.WindowSeconds = def.Signal.WindowSeconds
	}
	if c.Signal.StrideRatio == 0 {
		c.Signal.StrideRatio = def.Signal.StrideRatio
	}

	if c.Labels.QRSLowHz == 0 {
		c.Labels.QRSLowHz = def.Labels.QRSLowHz
	}
	if c.Labels.QRSHighHz == 0 {
		c.Labels.QRSHighHz = def.Labels.QRSHighHz
	}
	if c.Labels.SmoothSeconds == 0 {
		c.Labels.SmoothSeconds = def.Labels.SmoothSeconds
	}
	if c.Labels.Percentile == 0 {
		c.Labels.Percentile = def.Labels.Percentile
	}
	if c.Labels.MinRRSeconds == 0 {
		c.Labels.MinRRSeconds = def.Labels.MinRRSeconds
	}
	if c.Labels.PTTMaxSeconds == 0 {
		c.Labels.PTTMinSeconds = def.Labels.PTTMinSeconds
		c.Labels.PTTMaxSeconds = def.Labels.PTTMaxSeconds
	}
	if c.Labels.LabelHalfWidth == 0 {
		c.Labels.LabelHalfWidth = def.Labels.LabelHalfWidth
	}
	if c.Labels.FilePattern == "" {
		c.Labels.FilePattern = def.Labels.FilePattern
	}

	if c.Model.DModel == 0 {
		c.Model.DModel = def.Model.DModel
	}
	if c.Model.Heads == 0 {
		c.Model.Heads = def.Model.Heads
	}
	if c.Model.Layers == 0 {
		c.Model.Layers = def.Model.Layers
	}
	if c.Model.Features == 0 {
		c.Model.Features = def.Model.Features
	}
	if c.Model.FFMultiple == 0 {
		c.Model.FFMultiple = def.Model.FFMultiple
	}

	if c.Train.Epochs == 0 {
		c.Train.Epochs = def.Train.Epochs
	}
	if c.Train.BatchSize == 0 {
		c.Train.BatchSize = def.Train.BatchSize
	}
	if c.Train.LR == 0 {
		c.Train.LR = def.Train.LR
	}
	if c.Train.ValFraction == 0 {
		c.Train.ValFraction = def.Train.ValFraction
	}
	if c.Train.LogEvery == 0 {
		c.Train.LogEvery = def.Train.LogEvery
	}

	if c.Inference.StrideDivisor == 0 {
		c.Inference.StrideDivisor = def.Inference.StrideDivisor
	}
	if c.Inference.Threshold == 0 {
		c.Inference.Threshold = def.Inference.Threshold
	}
	if c.Inference.MinPeakSeconds == 0 {
		c.Inference.MinPeakSeconds = def.Inference.MinPeakSeconds
	}
	if c.Inference.SourceSampleRate == 0 {
		c.Inference.SourceSampleRate = def.Inference.SourceSampleRate
	}
	if c.Inference.BatchSize == 0 {
		c.Inference.BatchSize = def.Inference.BatchSize
	}

	if c.Annotation.Dir == "" {
		c.Annotation.Dir = def.Annotation.Dir
	}
	if c.Annotation.StatusFile == "" {
		c.Annotation.StatusFile = def.Annotation.StatusFile
	}
	if c.Annotation.Listen == "" {
		c.Annotation.Listen = def.Annotation.Listen
	}
	if c.Annotation.RemoveSeconds == 0 {
		c.Annotation.RemoveSeconds = def.Annotation.RemoveSeconds
	}
	if c.Annotation.SnapSeconds == 0 {
		c.Annotation.SnapSeconds = def.Annotation.SnapSeconds
	}
	if c.Annotation.MaxHR == 0 {
		c.Annotation.MinHR = def.Annotation.MinHR
		c.Annotation.MaxHR = def.Annotation.MaxHR
	}
	if c.Annotation.Height == 0 {
		c.Annotation.Height = def.Annotation.Height
	}
	if c.Annotation.Prominence == 0 {
		c.Annotation.Prominence = def.Annotation.Prominence
	}
	if c.Annotation.CacheTTL == 0 {
		c.Annotation.CacheTTL = def.Annotation.CacheTTL
	}
	if c.Annotation.History == 0 {
		c.Annotation.History = def.Annotation.History
	}

	if c.Store.DSN == "" {
		c.Store.DSN = def.Store.DSN
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Monitor.WindowSeconds == 0 {
		c.Monitor.WindowSeconds = def.Monitor.WindowSeconds
	}
	if c.Monitor.DetectEvery == 0 {
		c.Monitor.DetectEvery = def.Monitor.DetectEvery
	}
	if c.Monitor.Averaging == 0 {
		c.Monitor.Averaging = def.Monitor.Averaging
	}
	if c.Monitor.Smoothing == 0 {
		c.Monitor.Smoothing = def.Monitor.Smoothing
	}
	if c.Monitor.SlopeWindow == 0 {
		c.Monitor.SlopeWindow = def.Monitor.SlopeWindow
	}
	if c.Monitor.SlopeOrder == 0 {
		c.Monitor.SlopeOrder = def.Monitor.SlopeOrder
	}

	if c.Mock.HeartRate == 0 {
		c.Mock.HeartRate = def.Mock.HeartRate
	}
	if c.Mock.Amplitude == 0 {
		c.Mock.Amplitude = def.Mock.Amplitude
	}
	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
