package marker

// Sync Marker Generation
//
// This package generates the acoustic timestamp used to align a microphone
// recording with the reference track it was recorded against. The marker is
// a short linear chirp (swept sine):
//
// 1. Instantaneous frequency sweeps linearly from StartHz to EndHz, so the
//    phase is the time integral 2π(f0·t + k·t²/2)
// 2. A Hann window suppresses the spectral leakage and audible clicks at the
//    marker edges
// 3. The sweep sits near the top of the audible band so it correlates
//    sharply against voice and music while staying unobtrusive to the singer
//
// The same float source backs both outputs: Waveform returns it directly for
// matched filtering, PCM16 quantizes it for injection into playable audio.
// Generation is fully deterministic.

import (
	"math"

	"vocalign/wav"
)

// ChirpSpec describes a deterministic linear chirp marker.
type ChirpSpec struct {
	SampleRate     int     `json:"sampleRate"`
	StartHz        float64 `json:"startHz"`
	EndHz          float64 `json:"endHz"`
	DurationMs     float64 `json:"durationMs"`
	Amplitude      float64 `json:"amplitude"` // [0, 1]
	SilenceAfterMs float64 `json:"silenceAfterMs"`
}

// DefaultChirpSpec returns the marker used for vocal exercises: a 150 ms
// near-ultrasonic sweep followed by a short gap before the reference audio.
func DefaultChirpSpec() ChirpSpec {
	return ChirpSpec{
		SampleRate:     48000,
		StartHz:        18000,
		EndHz:          19000,
		DurationMs:     150,
		Amplitude:      0.5,
		SilenceAfterMs: 350,
	}
}

// SweepSamples returns the number of samples in the windowed sweep itself,
// excluding the trailing silence.
func (s ChirpSpec) SweepSamples() int {
	return int(float64(s.SampleRate) * s.DurationMs / 1000.0)
}

// SilenceSamples returns the number of zero samples appended after the sweep.
func (s ChirpSpec) SilenceSamples() int {
	return int(float64(s.SampleRate) * s.SilenceAfterMs / 1000.0)
}

// Waveform generates the normalized float chirp template. The template spans
// only the windowed sweep; the trailing silence is an injection concern and
// never part of the matched filter.
func Waveform(spec ChirpSpec) []float64 {
	n := spec.SweepSamples()
	if n <= 0 {
		return nil
	}

	durationSec := spec.DurationMs / 1000.0
	sweepRate := (spec.EndHz - spec.StartHz) / durationSec

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(spec.SampleRate)
		phase := 2 * math.Pi * (spec.StartHz*t + sweepRate*t*t/2)

		window := 1.0
		if n > 1 {
			window = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}

		out[i] = math.Sin(phase) * window * spec.Amplitude
	}

	return out
}

// PCM16 generates the marker as playable PCM16 audio: the quantized sweep
// followed by SilenceAfterMs of zero samples. The sweep portion is the exact
// quantization of Waveform, so the two stay bit-consistent.
func PCM16(spec ChirpSpec) wav.PCMAudio {
	sweep := wav.FloatsToPCM16(Waveform(spec))

	samples := make([]int16, len(sweep)+spec.SilenceSamples())
	copy(samples, sweep)

	return wav.PCMAudio{
		SampleRate:    spec.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
		Samples:       samples,
	}
}
