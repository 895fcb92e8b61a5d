package model

import (
	"time"

	"github.com/google/uuid"
)

func NewID() string { return uuid.NewString() }

type Stats struct {
	Level        int `json:"level"`
	Strength     int `json:"strength"`
	Agility      int `json:"agility"`
	Intelligence int `json:"intelligence"`
	Constitution int `json:"constitution"`
}

type Profession struct {
	Level int `json:"level"`
	XP    int `json:"xp"`
}

type Player struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Stats     Stats          `json:"stats"`
	XP        int            `json:"xp"`
	Gold      int64          `json:"gold"`
	Mana      int            `json:"mana"`
	Location  string         `json:"location"`
	Inventory map[string]int `json:"inventory"`
	Equipment []string       `json:"equipment"`

	Professions map[string]Profession `json:"professions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MaxHP derives the battle HP pool from constitution and level.
func MaxHP(st Stats) int {
	return 50 + st.Constitution*5 + st.Level*2
}

// MaxMana derives the skill resource pool from intelligence and level.
func MaxMana(st Stats) int {
	return 20 + st.Intelligence*3 + st.Level
}

func (p *Player) HasItems(need map[string]int) bool {
	for item, n := range need {
		if p.Inventory[item] < n {
			return false
		}
	}
	return true
}

func (p *Player) RemoveItems(need map[string]int) {
	for item, n := range need {
		p.Inventory[item] -= n
		if p.Inventory[item] <= 0 {
			delete(p.Inventory, item)
		}
	}
}

func (p *Player) AddItems(items map[string]int) {
	if p.Inventory == nil {
		p.Inventory = map[string]int{}
	}
	for item, n := range items {
		if item == "" || n <= 0 {
			continue
		}
		p.Inventory[item] += n
	}
}

// GrantXP adds battle experience and returns levels gained. Each level
// requires level*100 xp.
func (p *Player) GrantXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	p.XP += xp
	levels := 0
	for need := p.Stats.Level * 100; need > 0 && p.XP >= need; need = p.Stats.Level * 100 {
		p.XP -= need
		p.Stats.Level++
		levels++
	}
	return levels
}

// GrantProfessionXP adds xp to the named profession and returns the number
// of levels gained at xpPerLevel thresholds.
func (p *Player) GrantProfessionXP(name string, xp, xpPerLevel int) int {
	if xp <= 0 || xpPerLevel <= 0 {
		return 0
	}
	if p.Professions == nil {
		p.Professions = map[string]Profession{}
	}
	prof := p.Professions[name]
	prof.XP += xp
	levels := 0
	for prof.XP >= xpPerLevel {
		prof.XP -= xpPerLevel
		prof.Level++
		levels++
	}
	p.Professions[name] = prof
	return levels
}
