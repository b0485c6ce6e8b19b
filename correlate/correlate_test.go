package correlate

import (
	"math"
	"math/rand"
	"testing"

	"vocalign/marker"
)

func testTemplate() []float64 {
	return marker.Waveform(marker.ChirpSpec{
		SampleRate: 8000,
		StartHz:    1000,
		EndHz:      3000,
		DurationMs: 50,
		Amplitude:  0.8,
	})
}

// embed places a scaled copy of template at offset inside a noisy buffer.
func embed(template []float64, total, offset int, scale float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	signal := make([]float64, total)
	for i := range signal {
		signal[i] = 0.01 * (rng.Float64()*2 - 1)
	}
	for i, s := range template {
		signal[offset+i] += s * scale
	}
	return signal
}

func TestFindBestLagSelfMatch(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	const offset = 1234
	signal := embed(template, 8000, offset, 0.5, 1)

	res := FindBestLag(signal, template, 0, len(signal))
	if res.BestLag != offset {
		t.Fatalf("expected lag %d, got %d", offset, res.BestLag)
	}
	if res.Confidence <= 5 {
		t.Fatalf("expected confidence well above the noise floor, got %.2f", res.Confidence)
	}
}

func TestFindBestLagInvertedPolarity(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	const offset = 900
	signal := embed(template, 6000, offset, -0.7, 2)

	res := FindBestLag(signal, template, 0, len(signal))
	if res.BestLag != offset {
		t.Fatalf("expected inverted marker at lag %d, got %d", offset, res.BestLag)
	}
	if res.Confidence <= 5 {
		t.Fatalf("expected high confidence on inverted marker, got %.2f", res.Confidence)
	}
}

func TestFindBestLagRespectsSearchStart(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	const offset = 3000
	signal := embed(template, 8000, offset, 1.0, 3)

	res := FindBestLag(signal, template, 2500, 3000)
	if res.BestLag != offset {
		t.Fatalf("expected signal-absolute lag %d, got %d", offset, res.BestLag)
	}
}

func TestFindBestLagRegionTooSmall(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	signal := make([]float64, len(template)-1)

	res := FindBestLag(signal, template, 0, len(signal))
	if res.BestLag != -1 || res.Confidence != 0 {
		t.Fatalf("expected {-1, 0} for unsearchable region, got %+v", res)
	}

	if res := FindBestLag(signal, template, len(signal)+10, 100); res.BestLag != -1 {
		t.Fatalf("expected {-1} for out-of-bounds start, got %+v", res)
	}
}

func TestFindBestLagSilentRegion(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	signal := make([]float64, 4000)

	res := FindBestLag(signal, template, 0, len(signal))
	if res.Confidence != 0 {
		t.Fatalf("expected zero confidence over silence, got %.4f", res.Confidence)
	}
}

// The FFT path must produce the same per-lag correlations as the direct
// sliding dot product, so lag ordering and confidence are interchangeable.
func TestDirectAndFFTPathsAgree(t *testing.T) {
	t.Parallel()

	template := testTemplate()
	signal := embed(template, 3000, 777, 0.6, 4)

	lagCount := len(signal) - len(template)
	direct := correlateDirect(signal, template, lagCount)
	viaFFT := correlateFFT(signal, template, lagCount)

	bestDirect, bestFFT := 0, 0
	for lag := range direct {
		if math.Abs(direct[lag]-viaFFT[lag]) > 1e-6 {
			t.Fatalf("lag %d diverges: direct=%v fft=%v", lag, direct[lag], viaFFT[lag])
		}
		if math.Abs(direct[lag]) > math.Abs(direct[bestDirect]) {
			bestDirect = lag
		}
		if math.Abs(viaFFT[lag]) > math.Abs(viaFFT[bestFFT]) {
			bestFFT = lag
		}
	}

	if bestDirect != bestFFT {
		t.Fatalf("paths disagree on best lag: direct=%d fft=%d", bestDirect, bestFFT)
	}
	if bestDirect != 777 {
		t.Fatalf("expected best lag 777, got %d", bestDirect)
	}
}
