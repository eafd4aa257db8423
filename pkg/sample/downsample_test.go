package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownsample_NoDownsampling(t *testing.T) {
	now := time.Now()
	samples := []Sample{
		{Timestamp: now, Value: 0.1},
		{Timestamp: now.Add(8 * time.Millisecond), Value: 0.2},
		{Timestamp: now.Add(16 * time.Millisecond), Value: 0.3},
	}

	result := Downsample(nil, samples, 10)
	assert.Equal(t, samples, result)

	dst := make([]Sample, 0, 10)
	result = Downsample(dst, samples, 10)
	assert.Equal(t, samples, result)
	assert.Equal(t, cap(dst), cap(result), "dst reused")

	assert.Equal(t, samples, Downsample(nil, samples, 0), "non-positive limit copies")
}

func TestDownsample_WithDownsampling(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}

	dst := make([]float64, 0, 20)
	result := Downsample(dst, values, 10)
	require.Len(t, result, 10)
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, result)
	assert.Equal(t, 20, cap(result), "dst reused")

	result = Downsample(nil, values, 3)
	assert.Equal(t, []float64{0, 33, 66}, result)
}

func TestDownsample_DestinationReuse(t *testing.T) {
	dst := make([]int, 0, 4)
	first := Downsample(dst, []int{1, 2}, 4)
	second := Downsample(first, []int{3, 4, 5}, 4)
	assert.Equal(t, []int{3, 4, 5}, second)
	assert.Equal(t, &first[:1][0], &second[:1][0], "same backing array")
}
