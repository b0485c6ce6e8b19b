package align

// Recording/Reference Alignment
//
// Playback and microphone capture run on separate audio clocks with unknown
// startup latency, so the raw recording is shifted against the reference by
// an amount that changes per run. This package recovers that shift:
//
// 1. Marker Injection: the chirp marker is prepended to the reference track
//    before playback, so both the reference and the recording contain it
// 2. Correlation: the marker template is matched against a short window at
//    the start of the reference and a longer window at the start of the
//    recording (capture start latency is far less predictable)
// 3. Offset: recordingLag − referenceLag gives the signed sample offset
// 4. Trim/Pad: a positive offset trims the recording's head, a negative one
//    pads it with silence, after which recording time equals reference time
//
// A low-confidence correlation is a normal outcome, reported as
// ErrMarkerNotFound so the caller can retry or fall back explicitly. The
// offset is never silently assumed to be zero.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/errgroup"

	"vocalign/correlate"
	"vocalign/marker"
	"vocalign/utils"
	"vocalign/wav"
)

// ErrMarkerNotFound reports that no correlation peak stood out enough to
// trust. Recoverable: the caller may retry the run or score unsynchronized.
var ErrMarkerNotFound = errors.New("alignment marker not found")

// Options holds the empirically tuned search parameters.
type Options struct {
	// ReferenceWindowSec bounds the marker search at the start of the
	// marked reference. The marker was injected digitally at sample zero,
	// so a short window suffices.
	ReferenceWindowSec float64
	// RecordingWindowSec bounds the marker search at the start of the
	// recording, where capture latency pushes the marker further in.
	RecordingWindowSec float64
	// MinConfidence is the peak-to-mean ratio both correlations must reach
	// before the offset is trusted.
	MinConfidence float64
	// HighPassHz, when positive, high-pass filters the recording before
	// correlation to keep room rumble and voice energy out of the matched
	// filter. Zero disables the filter.
	HighPassHz float64
}

// DefaultOptions returns the search parameters used for vocal exercises.
func DefaultOptions() Options {
	return Options{
		ReferenceWindowSec: 0.5,
		RecordingWindowSec: 2.5,
		MinConfidence:      6.0,
		HighPassHz:         8000,
	}
}

// SyncOffset is the alignment computed for one recording run.
type SyncOffset struct {
	SampleRate   int `json:"sampleRate"`
	ReferenceLag int `json:"referenceLag"`
	RecordingLag int `json:"recordingLag"`
	// Offset = RecordingLag − ReferenceLag. Positive means the recording
	// started late and must be trimmed; negative means it started early
	// and must be padded.
	Offset int `json:"offset"`
}

// OffsetSec returns the offset converted to seconds.
func (s SyncOffset) OffsetSec() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Offset) / float64(s.SampleRate)
}

// MaterializeMarkedReference prepends the chirp marker (and its trailing
// silence) to the reference track, producing the audio that is actually
// played to the singer.
func MaterializeMarkedReference(ref wav.PCMAudio, spec marker.ChirpSpec) (wav.PCMAudio, error) {
	if ref.SampleRate != spec.SampleRate {
		return wav.PCMAudio{}, fmt.Errorf("reference sample rate %d does not match marker spec %d",
			ref.SampleRate, spec.SampleRate)
	}
	if ref.Channels > 1 {
		return wav.PCMAudio{}, fmt.Errorf("%w: %d channels (expect mono)", wav.ErrUnsupportedFormat, ref.Channels)
	}

	mark := marker.PCM16(spec)
	samples := make([]int16, 0, len(mark.Samples)+len(ref.Samples))
	samples = append(samples, mark.Samples...)
	samples = append(samples, ref.Samples...)

	return wav.PCMAudio{
		SampleRate:    spec.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
		Samples:       samples,
	}, nil
}

// ComputeSync locates the marker in both signals and derives the signed
// sample offset between them. The two correlation searches are independent
// and run concurrently; ctx bounds the whole computation (callers should
// attach a deadline, the search cost is deterministic but not small).
func ComputeSync(ctx context.Context, refWithMarker, recorded wav.PCMAudio, spec marker.ChirpSpec, opts Options) (SyncOffset, error) {
	if refWithMarker.SampleRate != recorded.SampleRate {
		return SyncOffset{}, fmt.Errorf("sample rate mismatch: reference %d, recording %d",
			refWithMarker.SampleRate, recorded.SampleRate)
	}

	template := marker.Waveform(spec)
	if len(template) == 0 {
		return SyncOffset{}, errors.New("marker spec produced an empty template")
	}

	rate := refWithMarker.SampleRate
	refFloats := refWithMarker.Floats()
	recFloats := recorded.Floats()
	if opts.HighPassHz > 0 {
		recFloats = HighPassFilter(recFloats, rate, opts.HighPassHz)
	}

	// The window bounds where the marker may START, so each search region
	// is extended by one template length to cover the marker's full extent.
	refLen := int(opts.ReferenceWindowSec*float64(rate)) + len(template)
	recLen := int(opts.RecordingWindowSec*float64(rate)) + len(template)

	var refRes, recRes correlate.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		refRes = correlate.FindBestLag(refFloats, template, 0, refLen)
		return gctx.Err()
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		recRes = correlate.FindBestLag(recFloats, template, 0, recLen)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return SyncOffset{}, err
	}

	logger := utils.GetLogger()
	logger.InfoContext(ctx, "marker correlation finished",
		slog.Int("referenceLag", refRes.BestLag),
		slog.Float64("referenceConfidence", refRes.Confidence),
		slog.Int("recordingLag", recRes.BestLag),
		slog.Float64("recordingConfidence", recRes.Confidence),
		slog.Float64("minConfidence", opts.MinConfidence),
	)

	if refRes.BestLag < 0 || refRes.Confidence < opts.MinConfidence {
		err := fmt.Errorf("%w: reference confidence %.2f below %.2f",
			ErrMarkerNotFound, refRes.Confidence, opts.MinConfidence)
		logger.ErrorContext(ctx, "rejecting low-confidence reference marker", slog.Any("error", xerrors.New(err)))
		return SyncOffset{}, err
	}
	if recRes.BestLag < 0 || recRes.Confidence < opts.MinConfidence {
		err := fmt.Errorf("%w: recording confidence %.2f below %.2f",
			ErrMarkerNotFound, recRes.Confidence, opts.MinConfidence)
		logger.ErrorContext(ctx, "rejecting low-confidence recording marker", slog.Any("error", xerrors.New(err)))
		return SyncOffset{}, err
	}

	return SyncOffset{
		SampleRate:   rate,
		ReferenceLag: refRes.BestLag,
		RecordingLag: recRes.BestLag,
		Offset:       recRes.BestLag - refRes.BestLag,
	}, nil
}

// AlignRecording applies the computed offset: a positive offset trims the
// recording's head, a negative one pads it with leading silence. The amount
// is truncated down to a whole frame so multi-channel data would stay
// frame-aligned.
func AlignRecording(rec wav.PCMAudio, offset SyncOffset) wav.PCMAudio {
	channels := rec.Channels
	if channels <= 0 {
		channels = 1
	}

	aligned := rec
	shift := (absInt(offset.Offset) / channels) * channels

	switch {
	case offset.Offset > 0:
		if shift >= len(rec.Samples) {
			aligned.Samples = []int16{}
		} else {
			out := make([]int16, len(rec.Samples)-shift)
			copy(out, rec.Samples[shift:])
			aligned.Samples = out
		}
	case offset.Offset < 0:
		out := make([]int16, shift+len(rec.Samples))
		copy(out[shift:], rec.Samples)
		aligned.Samples = out
	default:
		out := make([]int16, len(rec.Samples))
		copy(out, rec.Samples)
		aligned.Samples = out
	}

	return aligned
}

// WriteAlignedFile persists the aligned audio with atomic rename semantics
// so a downstream reader never observes a partial file.
func WriteAlignedFile(path string, pcm wav.PCMAudio) error {
	return wav.WriteFile(path, pcm)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// HighPassFilter removes energy below cutoffHz with a first-order IIR
// filter. Out-of-range cutoffs return the input unchanged.
func HighPassFilter(samples []float64, sampleRate int, cutoffHz float64) []float64 {
	if cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return samples
	}

	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	filtered := make([]float64, len(samples))
	var prevOutput float64
	for i, x := range samples {
		if i == 0 {
			filtered[i] = x
		} else {
			filtered[i] = alpha * (prevOutput + x - samples[i-1])
		}
		prevOutput = filtered[i]
	}

	return filtered
}
