package formula

// Defaults are the built-in expressions used when no stored formula exists
// for a name (or the stored one fails to evaluate). Operators override these
// at runtime through the admin surface; the names form the engine's public
// vocabulary.
var Defaults = map[string]string{
	// Combat chances. Callers clamp: hit/dodge/flee into [0,1], crit into
	// [0, crit cap].
	"player_hit_chance":   "0.9 + hit_bonus + (agility - target_agility) * 0.002",
	"player_crit_chance":  "0.05 + agility * 0.003",
	"player_dodge_chance": "0.05 + agility * 0.004 + dodge_bonus",
	"mob_hit_chance":      "0.9 + (level - target_level) * 0.01",
	"mob_crit_chance":     "0.03 + level * 0.002",
	"flee_chance":         "0.5 + (agility - target_agility) * 0.01",

	// Defensive stances; granted as one-turn buffs.
	"defend_bonus":       "2 + level * 0.5",
	"dodge_stance_bonus": "0.2",

	// Damage and healing.
	"player_damage": "max(1, strength * 0.5 + weapon_damage + damage_bonus - target_defense * 0.3) * (crit > 0 ? 1.5 : 1)",
	"mob_damage":    "max(1, damage_min + rand() * (damage_max - damage_min) - target_defense * 0.3) * (crit > 0 ? 1.5 : 1)",
	"skill_damage":  "max(1, base_power + intelligence * 0.6) * (crit > 0 ? 1.5 : 1)",
	"skill_heal":    "base_power + intelligence * 0.8",

	// Timed action durations (seconds).
	"travel_duration": "base_seconds * distance * max(0.5, 1 - agility * 0.005)",
	"gather_duration": "base_seconds * max(0.5, 1 - profession_level * 0.02)",
	"craft_duration":  "base_seconds * max(0.5, 1 - profession_level * 0.02)",

	// Rewards.
	"gather_yield":    "max(1, round(1 + profession_level * 0.2 + rand()))",
	"mob_gold_reward": "round(mob_gold * (1 + rand() * 0.2))",
	"mob_xp_reward":   "mob_xp",
}
