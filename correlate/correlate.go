package correlate

// Matched-Filter Marker Detection
//
// This package locates the sync marker inside an audio signal by sliding the
// known chirp template across a bounded search window:
//
// 1. For every candidate lag L the correlation is the dot product between
//    the template and the signal slice starting at L
// 2. The lag with the largest |corr| wins; the absolute value matters
//    because capture hardware may invert polarity
// 3. Confidence is the winning |corr| divided by the mean |corr| across the
//    window, a unit-less measure of how far the peak stands out from the
//    noise floor
//
// The direct search is O(regionLen × templateLen). Above a cost threshold
// the same correlation values are computed through an FFT (overlap of the
// padded spectra), which preserves the peak-to-mean confidence contract
// since every per-lag value is numerically identical up to float error.

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/dsputils"
	"github.com/mjibson/go-dsp/fft"
)

// Result reports the outcome of a matched-filter search.
type Result struct {
	// BestLag is the sample offset into the signal where the template
	// aligns best, or -1 when the window could not be searched.
	BestLag int `json:"bestLag"`
	// Confidence is the peak-to-mean absolute correlation ratio over the
	// scanned window.
	Confidence float64 `json:"confidence"`
}

// fftCostThreshold is the lagCount × templateLen product above which the
// FFT path is cheaper than the direct sliding dot product.
const fftCostThreshold = 1 << 22

// FindBestLag searches signal[searchStart : searchStart+searchLen) for the
// best-aligned occurrence of template. The window is clipped to the signal
// bounds; a window smaller than the template cannot be searched and yields
// {BestLag: -1, Confidence: 0}.
func FindBestLag(signal, template []float64, searchStart, searchLen int) Result {
	notFound := Result{BestLag: -1, Confidence: 0}
	if len(template) == 0 || searchLen <= 0 {
		return notFound
	}

	start := searchStart
	if start < 0 {
		start = 0
	}
	if start >= len(signal) {
		return notFound
	}
	end := start + searchLen
	if end > len(signal) {
		end = len(signal)
	}

	region := signal[start:end]
	lagCount := len(region) - len(template)
	if lagCount <= 0 {
		return notFound
	}

	var corr []float64
	if int64(lagCount)*int64(len(template)) >= fftCostThreshold {
		corr = correlateFFT(region, template, lagCount)
	} else {
		corr = correlateDirect(region, template, lagCount)
	}

	bestLag := -1
	bestAbs := 0.0
	var sumAbs float64
	for lag, c := range corr {
		abs := math.Abs(c)
		sumAbs += abs
		if bestLag < 0 || abs > bestAbs {
			bestAbs = abs
			bestLag = lag
		}
	}

	mean := sumAbs / float64(lagCount)
	return Result{
		BestLag:    start + bestLag,
		Confidence: bestAbs / (mean + 1e-9),
	}
}

// correlateDirect computes the sliding dot product for every candidate lag.
func correlateDirect(region, template []float64, lagCount int) []float64 {
	corr := make([]float64, lagCount)
	for lag := 0; lag < lagCount; lag++ {
		var sum float64
		for m, t := range template {
			sum += region[lag+m] * t
		}
		corr[lag] = sum
	}
	return corr
}

// correlateFFT computes the same per-lag correlations through the frequency
// domain: corr = IFFT(FFT(region) · conj(FFT(template))).
func correlateFFT(region, template []float64, lagCount int) []float64 {
	n := dsputils.NextPowerOf2(len(region) + len(template))

	paddedRegion := make([]float64, n)
	copy(paddedRegion, region)
	paddedTemplate := make([]float64, n)
	copy(paddedTemplate, template)

	regionSpec := fft.FFTReal(paddedRegion)
	templateSpec := fft.FFTReal(paddedTemplate)

	product := make([]complex128, n)
	for i := range product {
		product[i] = regionSpec[i] * cmplx.Conj(templateSpec[i])
	}

	inverse := fft.IFFT(product)
	corr := make([]float64, lagCount)
	for lag := range corr {
		corr[lag] = real(inverse[lag])
	}
	return corr
}
