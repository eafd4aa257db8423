package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/hrv"
	"github.com/itohio/pulsepeak/pkg/monitor"
	"github.com/itohio/pulsepeak/pkg/sample"
)

func samplesAt(n int, start time.Time, step time.Duration) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = sample.Sample{
			Timestamp: start.Add(time.Duration(i) * step),
			IR:        float64(100000 + i),
			Value:     float64(i) / float64(n),
		}
	}
	return out
}

func TestSummaryText(t *testing.T) {
	sum := annotate.Summary{Peaks: 12, Duration: 10, HR: 72, SDNN: 30.5, Quality: 85, Plausible: true}
	text := summaryText(sum, 3)
	assert.Contains(t, text, "12 peaks in 10.0 s")
	assert.Contains(t, text, "HR 72.0 bpm")
	assert.Contains(t, text, "3 pending")
	assert.NotContains(t, text, "RMSSD")
	assert.NotContains(t, text, "implausible")

	sum.HRV = hrv.Metrics{RMSSD: 25, PNN50: 10, Count: hrv.MinIntervals}
	sum.Plausible = false
	text = summaryText(sum, 0)
	assert.Contains(t, text, "RMSSD 25.0 ms")
	assert.Contains(t, text, "implausible heart rate")
}

func TestLiveTrace(t *testing.T) {
	started := time.Unix(1000, 0)
	samples := samplesAt(5, started.Add(2*time.Second), 8*time.Millisecond)
	u := monitor.Update{
		Samples:    samples,
		Slope:      []float64{1, 2, 3, 4, 5},
		Beats:      []monitor.Beat{{Index: 1}, {Index: 3}},
		SampleRate: 125,
		Summary:    hrv.Summary{HR: 71.6},
	}

	tr := liveTrace(u, started)
	assert.Equal(t, 2.0, tr.Start)
	assert.Equal(t, []int{1, 3}, tr.Peaks)
	assert.Equal(t, u.Slope, tr.Slope)
	assert.Equal(t, "72 bpm", tr.Label)
	assert.Len(t, tr.Signal, 5)

	u.Slope = u.Slope[:3]
	u.Summary.HR = 0
	tr = liveTrace(u, started)
	assert.Nil(t, tr.Slope, "stale slope is not drawn")
	assert.Empty(t, tr.Label)
}

func TestRecorder(t *testing.T) {
	in := make(chan sample.Sample)
	r := &recorder{}
	out := tap(in, r.add)

	s := samplesAt(4, time.Unix(0, 0), 10*time.Millisecond)
	in <- s[0]
	<-out
	r.start()
	for _, v := range s[1:3] {
		in <- v
		<-out
	}
	close(in)
	_, ok := <-out
	assert.False(t, ok)

	assert.True(t, r.active())
	got := r.stop()
	assert.False(t, r.active())
	require.Len(t, got, 2)
	assert.Equal(t, s[1].Timestamp, got[0].Timestamp)
}

func TestRecordedSession(t *testing.T) {
	s := samplesAt(11, time.Unix(50, 0), 8*time.Millisecond)
	session, err := recordedSession(s, "mock", "ana")
	require.NoError(t, err)
	assert.InDelta(t, 125, session.SamplingRateHz, 1e-6)
	assert.Equal(t, "ana", session.UserName)
	assert.Equal(t, "mock", session.DeviceID)
	assert.Len(t, session.IRWaveform, 11)
	assert.Equal(t, 100000.0, session.IRWaveform[0])

	_, err = recordedSession(s[:1], "mock", "ana")
	assert.Error(t, err)
}
