package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds every operator-adjustable gameplay constant that is not a
// formula. Loaded from tuning.yaml; Defaults() covers a missing file on
// snapshot resumes.
type Tuning struct {
	// Timed actions.
	TravelBaseSeconds int `yaml:"travel_base_seconds"`
	GatherBaseSeconds int `yaml:"gather_base_seconds"`
	CraftBaseSeconds  int `yaml:"craft_base_seconds"`

	// Battles.
	BattleInactivitySeconds int     `yaml:"battle_inactivity_seconds"`
	ChallengeExpirySeconds  int     `yaml:"challenge_expiry_seconds"`
	ForcedLossPenaltyPct    float64 `yaml:"forced_loss_penalty_pct"`
	FleeForfeitFraction     float64 `yaml:"flee_forfeit_fraction"`
	CritChanceCap           float64 `yaml:"crit_chance_cap"`
	MaxStake                int64   `yaml:"max_stake"`

	// Snapshots.
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`

	// Scheduler.
	SweepEverySeconds int `yaml:"sweep_every_seconds"`

	// Progression.
	ProfessionXPPerLevel int `yaml:"profession_xp_per_level"`

	// New players. StartLocation must name a catalog location when set;
	// empty leaves the player unplaced until their first travel.
	StartLocation string `yaml:"start_location"`
	StartGold     int64  `yaml:"start_gold"`
}

func Defaults() Tuning {
	return Tuning{
		TravelBaseSeconds:       120,
		GatherBaseSeconds:       90,
		CraftBaseSeconds:        60,
		BattleInactivitySeconds: 600,
		ChallengeExpirySeconds:  300,
		ForcedLossPenaltyPct:    0.10,
		FleeForfeitFraction:     0.25,
		CritChanceCap:           0.5,
		MaxStake:                100000,
		SnapshotTTLSeconds:      3600,
		SweepEverySeconds:       15,
		ProfessionXPPerLevel:    100,
		StartGold:               50,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
