// Package catalogs loads the game content templates (mobs, items, recipes,
// resources, locations, skills, seed formulas) from JSON files. Content is
// authored by the external admin surface; this runtime only reads it.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Catalogs struct {
	Mobs      MobCatalog
	Items     ItemCatalog
	Recipes   RecipeCatalog
	Resources ResourceCatalog
	Locations LocationCatalog
	Skills    SkillCatalog
	Formulas  FormulaCatalog
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type LootEntry struct {
	Item   string  `json:"item"`
	Count  int     `json:"count"`
	Chance float64 `json:"chance"`
}

type MobCatalog struct {
	ByID   map[string]MobDef
	Digest string
}

type MobDef struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Level     int         `json:"level"`
	HP        int         `json:"hp"`
	DamageMin int         `json:"damage_min"`
	DamageMax int         `json:"damage_max"`
	Defense   int         `json:"defense"`
	Agility   int         `json:"agility"`
	Gold      int         `json:"gold"`
	XP        int         `json:"xp"`
	Loot      []LootEntry `json:"loot,omitempty"`
}

type ItemCatalog struct {
	ByID   map[string]ItemDef
	Digest string
}

type ItemDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// "WEAPON", "ARMOR", "CONSUMABLE", "MATERIAL"
	Kind string `json:"kind"`

	Damage  int `json:"damage,omitempty"`
	Defense int `json:"defense,omitempty"`
	// Additive bonuses keyed by formula variable: damage_bonus,
	// defense_bonus, hit_bonus, dodge_bonus.
	Bonuses map[string]float64 `json:"bonuses,omitempty"`

	// Consumable effects.
	HealHP      int `json:"heal_hp,omitempty"`
	RestoreMana int `json:"restore_mana,omitempty"`

	Value int `json:"value,omitempty"`
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	Digest string
}

type RecipeDef struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Inputs      []ItemCount `json:"inputs"`
	Outputs     []ItemCount `json:"outputs"`
	TimeSeconds int         `json:"time_seconds"`
	MinLevel    int         `json:"min_level,omitempty"`
	CostGold    int64       `json:"cost_gold,omitempty"`
	XP          int         `json:"xp,omitempty"`
}

type ResourceCatalog struct {
	ByID   map[string]ResourceDef
	Digest string
}

type ResourceDef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Item       string `json:"item"`
	LocationID string `json:"location_id,omitempty"`
	MinLevel   int    `json:"min_level,omitempty"`
	XP         int    `json:"xp,omitempty"`
}

type LocationCatalog struct {
	ByID   map[string]LocationDef
	Digest string
}

type LocationDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MinLevel int    `json:"min_level,omitempty"`
	// Travel distance multipliers to other locations; 1.0 when absent.
	Distance map[string]float64 `json:"distance,omitempty"`
}

type SkillCatalog struct {
	ByID   map[string]SkillDef
	Digest string
}

type SkillDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ManaCost int    `json:"mana_cost"`
	// "damage", "heal", "buff", "dot", "stun"
	Kind      string  `json:"kind"`
	BasePower float64 `json:"base_power,omitempty"`
	Stat      string  `json:"stat,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Turns     int     `json:"turns,omitempty"`
	MinLevel  int     `json:"min_level,omitempty"`
}

type FormulaCatalog struct {
	ByName map[string]FormulaDef
	Digest string
}

// FormulaDef seeds the stored-formula table on first boot; after that the
// admin surface owns the rows.
type FormulaDef struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

func digestOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func readCatalogFile(configDir, name string, out any) ([]byte, error) {
	path := filepath.Join(configDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}
