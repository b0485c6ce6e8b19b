package scoring

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Difficulty selects how forgiving the per-note score mapping is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// Tiers maps an absolute cents error onto a score bucket. A note inside
// PerfectCents scores 1.0, then 0.75 / 0.5 / 0.25 for the widening bands,
// and 0 beyond BadCents.
type Tiers struct {
	PerfectCents float64 `yaml:"perfectCents" json:"perfectCents"`
	GoodCents    float64 `yaml:"goodCents" json:"goodCents"`
	OkCents      float64 `yaml:"okCents" json:"okCents"`
	BadCents     float64 `yaml:"badCents" json:"badCents"`
}

// Config holds the scoring thresholds and tunables. All values are passed by
// value; the scorer has no shared mutable state.
type Config struct {
	// Frames below either gate are excluded from every note's statistics.
	VoicedThreshold float64 `yaml:"voicedThreshold" json:"voicedThreshold"`
	RMSThreshold    float64 `yaml:"rmsThreshold" json:"rmsThreshold"`

	// Attack and release trims exclude onset/offset pitch instability.
	AttackTrimSec  float64 `yaml:"attackTrimSec" json:"attackTrimSec"`
	ReleaseTrimSec float64 `yaml:"releaseTrimSec" json:"releaseTrimSec"`

	// TimingToleranceSec widens each note's frame search window beyond the
	// trimmed bounds to tolerate timing jitter.
	TimingToleranceSec float64 `yaml:"timingToleranceSec" json:"timingToleranceSec"`

	// OctaveBandCents is the half-width of the band around 1200 cents in
	// which a median error is treated as a detector octave mistake.
	OctaveBandCents float64 `yaml:"octaveBandCents" json:"octaveBandCents"`

	// A note whose cents-error MAD exceeds the limit is penalized by the
	// multiplier (wavering pitch).
	StabilityMADLimitCents float64 `yaml:"stabilityMadLimitCents" json:"stabilityMadLimitCents"`
	StabilityPenalty       float64 `yaml:"stabilityPenaltyMultiplier" json:"stabilityPenaltyMultiplier"`

	// MinNoteWeightSec floors each note's aggregation weight so degenerate
	// short notes still count.
	MinNoteWeightSec float64 `yaml:"minNoteWeightSec" json:"minNoteWeightSec"`

	// Per-difficulty scoring bands; easier difficulties get wider bands.
	Easy   Tiers `yaml:"easy" json:"easy"`
	Normal Tiers `yaml:"normal" json:"normal"`
	Hard   Tiers `yaml:"hard" json:"hard"`
}

// DefaultConfig returns the tuning used for daily vocal exercises.
func DefaultConfig() Config {
	return Config{
		VoicedThreshold:        0.5,
		RMSThreshold:           0.01,
		AttackTrimSec:          0.08,
		ReleaseTrimSec:         0.06,
		TimingToleranceSec:     0.05,
		OctaveBandCents:        100,
		StabilityMADLimitCents: 60,
		StabilityPenalty:       0.8,
		MinNoteWeightSec:       0.1,
		Easy:                   Tiers{PerfectCents: 40, GoodCents: 80, OkCents: 140, BadCents: 250},
		Normal:                 Tiers{PerfectCents: 25, GoodCents: 50, OkCents: 100, BadCents: 200},
		Hard:                   Tiers{PerfectCents: 15, GoodCents: 35, OkCents: 70, BadCents: 150},
	}
}

// ParseConfig decodes a YAML document over the default configuration, so a
// host can override just the fields it cares about.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the scorer relies on.
func (c Config) Validate() error {
	if c.VoicedThreshold < 0 || c.VoicedThreshold > 1 {
		return fmt.Errorf("voicedThreshold %.3f outside [0,1]", c.VoicedThreshold)
	}
	if c.RMSThreshold < 0 {
		return errors.New("rmsThreshold must not be negative")
	}
	if c.AttackTrimSec < 0 || c.ReleaseTrimSec < 0 || c.TimingToleranceSec < 0 {
		return errors.New("trim and tolerance durations must not be negative")
	}
	if c.StabilityPenalty < 0 || c.StabilityPenalty > 1 {
		return fmt.Errorf("stabilityPenaltyMultiplier %.3f outside [0,1]", c.StabilityPenalty)
	}
	if c.MinNoteWeightSec <= 0 {
		return errors.New("minNoteWeightSec must be positive")
	}
	for _, tiers := range []Tiers{c.Easy, c.Normal, c.Hard} {
		if tiers.PerfectCents <= 0 ||
			tiers.GoodCents < tiers.PerfectCents ||
			tiers.OkCents < tiers.GoodCents ||
			tiers.BadCents < tiers.OkCents {
			return fmt.Errorf("tier bounds must be positive and non-decreasing: %+v", tiers)
		}
	}
	return nil
}

func (c Config) tiers(difficulty Difficulty) Tiers {
	switch difficulty {
	case DifficultyEasy:
		return c.Easy
	case DifficultyHard:
		return c.Hard
	default:
		return c.Normal
	}
}
