package marker

import (
	"math"
	"testing"

	"vocalign/wav"
)

func TestWaveformDeterminism(t *testing.T) {
	t.Parallel()

	spec := DefaultChirpSpec()
	first := Waveform(spec)
	second := Waveform(spec)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestPCM16MatchesWaveform(t *testing.T) {
	t.Parallel()

	spec := DefaultChirpSpec()
	pcm := PCM16(spec)
	quantized := wav.FloatsToPCM16(Waveform(spec))

	wantLen := spec.SweepSamples() + spec.SilenceSamples()
	if len(pcm.Samples) != wantLen {
		t.Fatalf("expected %d samples, got %d", wantLen, len(pcm.Samples))
	}

	for i, s := range quantized {
		if pcm.Samples[i] != s {
			t.Fatalf("sweep sample %d differs: pcm=%d quantized=%d", i, pcm.Samples[i], s)
		}
	}
	for i := len(quantized); i < len(pcm.Samples); i++ {
		if pcm.Samples[i] != 0 {
			t.Fatalf("silence sample %d is %d, expected 0", i, pcm.Samples[i])
		}
	}

	if pcm.SampleRate != spec.SampleRate || pcm.Channels != 1 || pcm.BitsPerSample != 16 {
		t.Fatalf("unexpected pcm format: %+v", pcm)
	}
}

func TestWaveformWindowedEdges(t *testing.T) {
	t.Parallel()

	spec := DefaultChirpSpec()
	samples := Waveform(spec)
	if len(samples) < 2 {
		t.Fatalf("expected a multi-sample sweep, got %d samples", len(samples))
	}

	if math.Abs(samples[0]) > 1e-9 {
		t.Errorf("first sample not silenced by window: %v", samples[0])
	}
	if math.Abs(samples[len(samples)-1]) > 1e-6 {
		t.Errorf("last sample not silenced by window: %v", samples[len(samples)-1])
	}

	for i, s := range samples {
		if math.Abs(s) > spec.Amplitude {
			t.Fatalf("sample %d exceeds amplitude: %v > %v", i, s, spec.Amplitude)
		}
	}
}

func TestWaveformSingleSample(t *testing.T) {
	t.Parallel()

	spec := ChirpSpec{
		SampleRate: 1000,
		StartHz:    100,
		EndHz:      200,
		DurationMs: 1, // one sample at 1 kHz
		Amplitude:  1,
	}
	samples := Waveform(spec)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if math.IsNaN(samples[0]) || math.IsInf(samples[0], 0) {
		t.Fatalf("degenerate window produced %v", samples[0])
	}
}

func TestWaveformEmptySpec(t *testing.T) {
	t.Parallel()

	if got := Waveform(ChirpSpec{SampleRate: 48000}); got != nil {
		t.Fatalf("expected nil waveform for zero duration, got %d samples", len(got))
	}
}
