package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// fftSize must be a power of two
	fftSize = 2048
	// NumBands is the number of frequency bands reported
	NumBands  = 128
	smoothing = 0.5
	// spread is the share of each neighbour added to a band
	spread = 0.3

	minFrequency = 20.0
	maxFrequency = 20000.0
	dbFloor      = -60.0
)

// BandsCallback receives a fresh copy of the bands after every FFT window
type BandsCallback func(bands []uint8)

// Analyzer turns played PCM into logarithmically spaced magnitude bands
// scaled 0-255.
type Analyzer struct {
	mu       sync.Mutex
	format   struct{ sampleRate, channels int }
	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	bandOf   []int // FFT bin -> band, -1 when outside the audible range
	smoothed []float64
	ready    bool
	callback BandsCallback
}

// NewAnalyzer creates an analyzer for s16le PCM
func NewAnalyzer(sampleRate, channels int) *Analyzer {
	a := &Analyzer{
		fft:      fourier.NewFFT(fftSize),
		window:   make([]float64, fftSize),
		ring:     make([]float64, fftSize),
		bandOf:   make([]int, fftSize/2),
		smoothed: make([]float64, NumBands),
	}
	a.format.sampleRate = sampleRate
	a.format.channels = max(channels, 1)

	// Hann window
	for i := range a.window {
		a.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	top := math.Min(maxFrequency, float64(sampleRate)/2)
	logMin, logMax := math.Log10(minFrequency), math.Log10(top)
	binWidth := float64(sampleRate) / fftSize
	for bin := range a.bandOf {
		freq := float64(bin) * binWidth
		if bin == 0 || freq < minFrequency || freq > top {
			a.bandOf[bin] = -1
			continue
		}
		band := int((math.Log10(freq) - logMin) / (logMax - logMin) * NumBands)
		a.bandOf[bin] = min(max(band, 0), NumBands-1)
	}
	return a
}

// SetCallback registers a push callback; nil disables it
func (a *Analyzer) SetCallback(cb BandsCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = cb
}

// ProcessSamples mixes PCM to mono and runs an FFT every full window
func (a *Analyzer) ProcessSamples(data []byte) {
	var pushes [][]uint8

	a.mu.Lock()
	stride := 2 * a.format.channels
	for i := 0; i+stride <= len(data); i += stride {
		var sum float64
		for ch := 0; ch < a.format.channels; ch++ {
			off := i + ch*2
			sum += float64(int16(data[off])|int16(data[off+1])<<8) / 32768.0
		}
		a.ring[a.pos] = sum / float64(a.format.channels)
		a.pos = (a.pos + 1) % fftSize

		if a.pos == 0 {
			a.analyze()
			a.ready = true
			if a.callback != nil {
				pushes = append(pushes, a.bandsLocked())
			}
		}
	}
	cb := a.callback
	a.mu.Unlock()

	for _, bands := range pushes {
		cb(bands)
	}
}

// analyze runs one FFT over the ring. Caller holds a.mu.
func (a *Analyzer) analyze() {
	windowed := make([]float64, fftSize)
	for i := range windowed {
		windowed[i] = a.ring[(a.pos+i)%fftSize] * a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, windowed)

	var sums [NumBands]float64
	var counts [NumBands]int
	for bin, band := range a.bandOf {
		if band < 0 {
			continue
		}
		magnitude := math.Hypot(real(coeffs[bin]), imag(coeffs[bin]))
		db := 20 * math.Log10(magnitude/fftSize+1e-10)
		sums[band] += clamp255((db - dbFloor) / -dbFloor * 255)
		counts[band]++
	}
	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
	}

	// Bleed neighbours into each band so bands without bins are not empty.
	for i := range a.smoothed {
		v := sums[i]
		if i > 0 {
			v += sums[i-1] * spread
		}
		if i < NumBands-1 {
			v += sums[i+1] * spread
		}
		a.smoothed[i] = smoothing*a.smoothed[i] + (1-smoothing)*clamp255(v)
	}
}

func (a *Analyzer) bandsLocked() []uint8 {
	out := make([]uint8, NumBands)
	for i, v := range a.smoothed {
		out[i] = uint8(clamp255(v))
	}
	return out
}

// Bands returns the current band magnitudes
func (a *Analyzer) Bands() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bandsLocked()
}

// Ready reports whether a full window has been analyzed since the last reset
func (a *Analyzer) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Reset clears collected samples and bands
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
	a.ready = false
}

func clamp255(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}
