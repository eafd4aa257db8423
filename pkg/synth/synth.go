// Package synth generates synthetic ECG and PPG recordings with known beat locations.
package synth

import (
	"math"
	"math/rand"
)

// horizon is how far ahead (and behind) of the current sample beats are kept, in seconds.
const horizon = 2.0

type Config struct {
	SampleRate  float64 // Hz
	HeartRate   float64 // beats per minute
	Variation   float64 // relative RR jitter (std dev)
	PTT         float64 // pulse transit time, seconds between R peak and PPG peak
	Noise       float64 // additive gaussian noise std dev
	Respiration float64 // amplitude of the 0.25 Hz PPG baseline wander
	Seed        int64
}

// DefaultConfig mirrors a resting adult recorded at 125 Hz.
func DefaultConfig() Config {
	return Config{
		SampleRate:  125,
		HeartRate:   72,
		Variation:   0.03,
		PTT:         0.25,
		Noise:       0.01,
		Respiration: 0.1,
		Seed:        1,
	}
}

// Sample is a single generated time step.
type Sample struct {
	ECG     float64
	PPG     float64
	RPeak   bool
	PPGPeak bool
}

type beat struct {
	at float64 // R peak time in seconds
	rr float64
}

// Generator produces an endless stream of samples.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	n     int
	beats []beat
	next  float64
}

func NewGenerator(cfg Config) *Generator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.HeartRate <= 0 {
		cfg.HeartRate = DefaultConfig().HeartRate
	}
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		next: 0.5,
	}
}

// SampleRate returns the generator's sample rate in Hz.
func (g *Generator) SampleRate() float64 { return g.cfg.SampleRate }

func (g *Generator) schedule(until float64) {
	base := 60 / g.cfg.HeartRate
	for g.next < until {
		rr := base * (1 + g.cfg.Variation*g.rng.NormFloat64())
		rr = math.Max(0.3, math.Min(2.0, rr))
		g.beats = append(g.beats, beat{at: g.next, rr: rr})
		g.next += rr
	}

	drop := 0
	for drop < len(g.beats) && g.beats[drop].at < until-2*horizon {
		drop++
	}
	g.beats = g.beats[drop:]
}

// Next returns the next sample.
func (g *Generator) Next() Sample {
	fs := g.cfg.SampleRate
	t := float64(g.n) / fs
	g.schedule(t + horizon)

	var s Sample
	for _, b := range g.beats {
		s.ECG += ecgWave(t - b.at)
		s.PPG += ppgWave(t - b.at - g.cfg.PTT)
		if g.n == int(math.Round(b.at*fs)) {
			s.RPeak = true
		}
		if g.n == int(math.Round((b.at+g.cfg.PTT)*fs)) {
			s.PPGPeak = true
		}
	}
	s.PPG += g.cfg.Respiration * math.Sin(2*math.Pi*0.25*t)
	if g.cfg.Noise > 0 {
		s.ECG += g.cfg.Noise * g.rng.NormFloat64()
		s.PPG += g.cfg.Noise * g.rng.NormFloat64()
	}

	g.n++
	return s
}

func gauss(dt, sigma float64) float64 {
	return math.Exp(-dt * dt / (2 * sigma * sigma))
}

// ecgWave is a PQRST complex centred on the R peak at dt = 0.
func ecgWave(dt float64) float64 {
	return 0.1*gauss(dt+0.2, 0.025) -
		0.1*gauss(dt+0.03, 0.01) +
		1.0*gauss(dt, 0.01) -
		0.15*gauss(dt-0.03, 0.01) +
		0.3*gauss(dt-0.25, 0.04)
}

// ppgWave is a systolic pulse at dt = 0 followed by a smaller dicrotic wave.
func ppgWave(dt float64) float64 {
	return gauss(dt, 0.08) + 0.25*gauss(dt-0.32, 0.07)
}

// Recording is a generated fixed-length record.
type Recording struct {
	SampleRate float64
	ECG        []float64
	PPG        []float64
	RPeaks     []int
	PPGPeaks   []int
}

// Generate produces n samples with the given configuration.
func Generate(cfg Config, n int) Recording {
	g := NewGenerator(cfg)
	rec := Recording{
		SampleRate: g.SampleRate(),
		ECG:        make([]float64, n),
		PPG:        make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s := g.Next()
		rec.ECG[i] = s.ECG
		rec.PPG[i] = s.PPG
		if s.RPeak {
			rec.RPeaks = append(rec.RPeaks, i)
		}
		if s.PPGPeak {
			rec.PPGPeaks = append(rec.PPGPeaks, i)
		}
	}
	return rec
}

// Sensor converts a generated PPG value into a raw reflective-sensor reading:
// the baseline minus the pulse, since absorbed light reduces the reading.
func Sensor(ppg, baseline, amplitude float64) float64 {
	return baseline - amplitude*ppg
}
