package scoring

// Robust Note Scoring
//
// This package grades a sung performance against a schedule of target notes
// using per-frame pitch estimates from an external detector:
//
// 1. Frame Gating: frames are shifted by the alignment offset, sorted, and
//    gated on voiced probability and RMS so silence and noise never enter a
//    note's statistics
// 2. Note Windowing: each note's attack and release are trimmed to skip
//    onset/offset instability, then the search window is widened by a
//    timing tolerance to forgive jitter
// 3. Robust Statistics: the cents-error distribution is summarised with the
//    median and MAD instead of mean/stddev, so transient mis-detections
//    cannot drag a note's grade
// 4. Octave Rescue: a median error close to ±1200 cents is treated as a
//    detector octave mistake and re-centered before grading
// 5. Grading: the rescued median error maps onto difficulty-dependent score
//    tiers; an unstable note (large MAD) is additionally penalized
//
// The scorer is a pure function of its inputs: scoring the same data twice
// yields identical results.

import (
	"math"
	"sort"
)

// ReferenceNote is one target note of the exercise. MIDI may be fractional
// for glides.
type ReferenceNote struct {
	Start float64 `json:"startSec"`
	End   float64 `json:"endSec"`
	MIDI  float64 `json:"midiNumber"`
	Label string  `json:"label,omitempty"`
}

// PitchFrame is one externally produced pitch estimate. Hz <= 0 means the
// frame is unvoiced.
type PitchFrame struct {
	Time       float64 `json:"timeSec"`
	Hz         float64 `json:"hz"`
	VoicedProb float64 `json:"voicedProbability"`
	RMS        float64 `json:"rms"`
}

// ReasonNoValidFrames marks a note that had no admissible pitch frames.
const ReasonNoValidFrames = "no_valid_frames"

// NoteScore is the per-note grading outcome. The cents statistics are only
// meaningful when FrameCount > 0.
type NoteScore struct {
	Index          int     `json:"index"`
	MIDI           float64 `json:"midiNumber"`
	Label          string  `json:"label,omitempty"`
	Start          float64 `json:"startTime"`
	End            float64 `json:"endTime"`
	FrameCount     int     `json:"frameCount"`
	MedianCents    float64 `json:"medianErrorCents"`
	MADCents       float64 `json:"madCents"`
	AvgAbsCents    float64 `json:"avgAbsCents"`
	MedianAbsCents float64 `json:"medianAbsCents"`
	MaxAbsCents    float64 `json:"maxAbsCents"`
	Score          float64 `json:"score"`
	Reason         string  `json:"reason,omitempty"`
}

// IgnoredFrameStats counts the frames excluded from all notes' statistics.
type IgnoredFrameStats struct {
	Unvoiced     int `json:"unvoiced"`
	LowRMS       int `json:"lowRms"`
	TrimFiltered int `json:"trimFiltered"`
}

// ScoreResult is the terminal output of a scoring run.
type ScoreResult struct {
	OverallScorePercent float64           `json:"overallScorePercent"`
	Notes               []NoteScore       `json:"perNote"`
	Ignored             IgnoredFrameStats `json:"ignoredFrameStats"`
}

// MIDIToHz converts a (possibly fractional) MIDI note number to Hz.
func MIDIToHz(midi float64) float64 {
	return 440.0 * math.Pow(2, (midi-69)/12)
}

// CentsError converts the ratio between a sung and a target frequency to
// cents (100 cents per semitone).
func CentsError(hz, targetHz float64) float64 {
	return 1200 * math.Log2(hz/targetHz)
}

// Score grades every reference note against the pitch-frame timeline.
// offsetSec is the alignment offset computed for the recording; frame times
// are shifted by -offsetSec before any windowing. One NoteScore is always
// produced per input note, even on total data loss.
func Score(notes []ReferenceNote, frames []PitchFrame, cfg Config, difficulty Difficulty, offsetSec float64) ScoreResult {
	adjusted := make([]PitchFrame, len(frames))
	for i, f := range frames {
		f.Time -= offsetSec
		adjusted[i] = f
	}
	// Defensive sort: upstream detectors usually emit frames in order, but
	// the contract does not require it.
	sort.SliceStable(adjusted, func(i, j int) bool {
		return adjusted[i].Time < adjusted[j].Time
	})

	var ignored IgnoredFrameStats
	admissible := adjusted[:0:0]
	for _, f := range adjusted {
		voiced := f.VoicedProb >= cfg.VoicedThreshold && f.Hz > 0 && !math.IsInf(f.Hz, 0) && !math.IsNaN(f.Hz)
		if !voiced {
			ignored.Unvoiced++
			continue
		}
		if f.RMS < cfg.RMSThreshold {
			ignored.LowRMS++
			continue
		}
		admissible = append(admissible, f)
	}

	tiers := cfg.tiers(difficulty)

	result := ScoreResult{Notes: make([]NoteScore, 0, len(notes))}
	var weightedSum, totalWeight float64

	// A frame falling in the trim regions of two adjacent notes is still
	// one ignored frame.
	trimCounted := make([]bool, len(admissible))

	for idx, note := range notes {
		trimStart := note.Start + cfg.AttackTrimSec
		trimEnd := note.End - cfg.ReleaseTrimSec
		searchStart := trimStart - cfg.TimingToleranceSec
		searchEnd := trimEnd + cfg.TimingToleranceSec

		var cents []float64
		targetHz := MIDIToHz(note.MIDI)
		for fi, f := range admissible {
			if f.Time >= searchStart && f.Time <= searchEnd {
				cents = append(cents, CentsError(f.Hz, targetHz))
			} else if f.Time >= note.Start && f.Time <= note.End && !trimCounted[fi] {
				// Timing-valid but inside the trimmed attack/release.
				trimCounted[fi] = true
				ignored.TrimFiltered++
			}
		}

		trimmedDuration := trimEnd - trimStart
		if trimmedDuration < 0 {
			trimmedDuration = 0
		}
		weight := math.Max(trimmedDuration, cfg.MinNoteWeightSec)

		score := NoteScore{
			Index: idx,
			MIDI:  note.MIDI,
			Label: note.Label,
			Start: note.Start,
			End:   note.End,
		}

		if len(cents) == 0 {
			// Missing a note is scored as a miss, not ignored: the zero
			// still carries the note's full weight.
			score.Reason = ReasonNoValidFrames
		} else {
			score.FrameCount = len(cents)
			score.MedianCents = median(cents)
			score.MADCents = mad(cents, score.MedianCents)

			abs := make([]float64, len(cents))
			var absSum float64
			for i, c := range cents {
				abs[i] = math.Abs(c)
				absSum += abs[i]
				if abs[i] > score.MaxAbsCents {
					score.MaxAbsCents = abs[i]
				}
			}
			score.AvgAbsCents = absSum / float64(len(cents))
			score.MedianAbsCents = median(abs)

			scoringError := rescueOctave(score.MedianCents, cfg.OctaveBandCents)
			score.Score = tiers.mapError(math.Abs(scoringError))

			if score.MADCents > cfg.StabilityMADLimitCents {
				score.Score *= cfg.StabilityPenalty
			}
		}

		weightedSum += score.Score * weight
		totalWeight += weight
		result.Notes = append(result.Notes, score)
	}

	if totalWeight > 0 {
		result.OverallScorePercent = 100 * weightedSum / totalWeight
	}
	result.Ignored = ignored
	return result
}

// rescueOctave re-centers a median error that sits within the octave band
// around ±1200 cents, assuming the pitch detector picked the wrong octave
// while the singer was accurate.
func rescueOctave(medianCents, bandCents float64) float64 {
	if math.Abs(math.Abs(medianCents)-1200) <= bandCents {
		if medianCents > 0 {
			return medianCents - 1200
		}
		return medianCents + 1200
	}
	return medianCents
}

// mapError converts an absolute cents error into a tiered score.
func (t Tiers) mapError(absCents float64) float64 {
	switch {
	case absCents <= t.PerfectCents:
		return 1.0
	case absCents <= t.GoodCents:
		return 0.75
	case absCents <= t.OkCents:
		return 0.5
	case absCents <= t.BadCents:
		return 0.25
	default:
		return 0.0
	}
}

// median returns the middle value of the set without mutating the input.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// mad returns the median absolute deviation around the given center.
func mad(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - center)
	}
	return median(deviations)
}
