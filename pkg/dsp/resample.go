package dsp

import (
	"github.com/mjibson/go-dsp/fft"
)

// Resample changes the length of x to num samples with Fourier interpolation.
// The signal is treated as periodic, so edges may ring slightly.
func Resample(x []float64, num int) []float64 {
	nx := len(x)
	if num <= 0 || nx == 0 {
		return []float64{}
	}
	if num == nx {
		out := make([]float64, nx)
		copy(out, x)
		return out
	}

	spectrum := fft.FFTReal(x)

	// Positive half of the output spectrum, including Nyquist when present.
	half := make([]complex128, num/2+1)
	n := num
	if nx < n {
		n = nx
	}
	nyq := n/2 + 1
	copy(half[:nyq], spectrum[:nyq])
	if n%2 == 0 {
		switch {
		case num < nx:
			half[n/2] *= 2
		case nx < num:
			half[n/2] *= 0.5
		}
	}

	full := make([]complex128, num)
	copy(full, half)
	for k := 1; k < len(half); k++ {
		if num-k < len(half) {
			// Nyquist bin of an even-length output appears once.
			continue
		}
		full[num-k] = complex(real(half[k]), -imag(half[k]))
	}
	if num%2 == 0 {
		full[num/2] = complex(real(half[num/2]), 0)
	}

	inv := fft.IFFT(full)
	scale := float64(num) / float64(nx)
	out := make([]float64, num)
	for i, v := range inv {
		out[i] = real(v) * scale
	}
	return out
}

// ResampleRate resamples x recorded at fromHz so that it is sampled at toHz.
func ResampleRate(x []float64, fromHz, toHz float64) []float64 {
	if fromHz <= 0 || toHz <= 0 {
		return []float64{}
	}
	num := int(float64(len(x)) * toHz / fromHz)
	return Resample(x, num)
}
