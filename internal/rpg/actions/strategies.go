package actions

import (
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/tuning"
)

const (
	professionGathering = "gathering"
	professionCrafting  = "crafting"
)

// strategy carries the kind-specific rules; the manager owns everything
// else.
type strategy interface {
	// prepare validates eligibility against the loaded player, debits any
	// upfront cost in place, and returns the payload pinned at start plus
	// the duration-formula variables.
	prepare(m *Manager, p *model.Player, targetID string) (map[string]any, map[string]float64, error)
	// grant applies completion rewards in place and returns audit fields.
	grant(m *Manager, p *model.Player, a *model.TimedAction) map[string]any

	formulaName() string
	baseSeconds(t tuning.Tuning) int
	cacheKey(userID string) string
}

var strategies = map[model.ActionKind]strategy{
	model.ActionTravel: travelStrategy{},
	model.ActionGather: gatherStrategy{},
	model.ActionCraft:  craftStrategy{},
}

// --- travel ----------------------------------------------------------------

type travelStrategy struct{}

func (travelStrategy) formulaName() string { return "travel_duration" }
func (travelStrategy) baseSeconds(t tuning.Tuning) int { return t.TravelBaseSeconds }
func (travelStrategy) cacheKey(userID string) string { return cache.TravelKey(userID) }

func (travelStrategy) prepare(m *Manager, p *model.Player, targetID string) (map[string]any, map[string]float64, error) {
	dest, ok := m.cat.Locations.ByID[targetID]
	if !ok {
		return nil, nil, protocol.Errf(protocol.ErrNotFound, "unknown location %s", targetID)
	}
	if targetID == p.Location {
		return nil, nil, protocol.Errf(protocol.ErrBadRequest, "already at %s", dest.Name)
	}
	if p.Stats.Level < dest.MinLevel {
		return nil, nil, protocol.Errf(protocol.ErrBadRequest, "%s requires level %d", dest.Name, dest.MinLevel)
	}

	distance := 1.0
	if from, ok := m.cat.Locations.ByID[p.Location]; ok {
		if d, ok := from.Distance[targetID]; ok && d > 0 {
			distance = d
		}
	}
	payload := map[string]any{"from": p.Location}
	vars := map[string]float64{
		"distance": distance,
		"agility":  float64(p.Stats.Agility),
	}
	return payload, vars, nil
}

func (travelStrategy) grant(m *Manager, p *model.Player, a *model.TimedAction) map[string]any {
	p.Location = a.TargetID
	return map[string]any{"arrived": a.TargetID}
}

// --- gather ----------------------------------------------------------------

type gatherStrategy struct{}

func (gatherStrategy) formulaName() string { return "gather_duration" }
func (gatherStrategy) baseSeconds(t tuning.Tuning) int { return t.GatherBaseSeconds }
func (gatherStrategy) cacheKey(userID string) string { return cache.GatherKey(userID) }

func (gatherStrategy) prepare(m *Manager, p *model.Player, targetID string) (map[string]any, map[string]float64, error) {
	res, ok := m.cat.Resources.ByID[targetID]
	if !ok {
		return nil, nil, protocol.Errf(protocol.ErrNotFound, "unknown resource %s", targetID)
	}
	if res.LocationID != "" && res.LocationID != p.Location {
		return nil, nil, protocol.Errf(protocol.ErrBadRequest, "%s is not available here", res.Name)
	}
	profLevel := p.Professions[professionGathering].Level
	if profLevel < res.MinLevel {
		return nil, nil, protocol.Errf(protocol.ErrBadRequest, "%s requires %s level %d", res.Name, professionGathering, res.MinLevel)
	}

	// Yield is pinned at start so completion is deterministic no matter
	// which path (timer, sweep, recovery) runs it.
	vars := map[string]float64{"profession_level": float64(profLevel)}
	yield := int(m.formulas.Evaluate("gather_yield", vars))
	if yield < 1 {
		yield = 1
	}
	payload := map[string]any{"item": res.Item, "count": yield, "xp": res.XP}
	return payload, vars, nil
}

func (gatherStrategy) grant(m *Manager, p *model.Player, a *model.TimedAction) map[string]any {
	item, _ := a.Payload["item"].(string)
	count := payloadInt(a.Payload, "count")
	xp := payloadInt(a.Payload, "xp")

	p.AddItems(map[string]int{item: count})
	levels := p.GrantProfessionXP(professionGathering, xp, m.tune.ProfessionXPPerLevel)
	return map[string]any{"item": item, "count": count, "xp": xp, "levels_gained": levels}
}

// --- craft -----------------------------------------------------------------

type craftStrategy struct{}

func (craftStrategy) formulaName() string { return "craft_duration" }
func (craftStrategy) baseSeconds(t tuning.Tuning) int { return t.CraftBaseSeconds }
func (craftStrategy) cacheKey(userID string) string { return cache.CraftingKey(userID) }

func (craftStrategy) prepare(m *Manager, p *model.Player, targetID string) (map[string]any, map[string]float64, error) {
	recipe, ok := m.cat.Recipes.ByID[targetID]
	if !ok {
		return nil, nil, protocol.Errf(protocol.ErrNotFound, "unknown recipe %s", targetID)
	}
	profLevel := p.Professions[professionCrafting].Level
	if profLevel < recipe.MinLevel {
		return nil, nil, protocol.Errf(protocol.ErrBadRequest, "%s requires %s level %d", recipe.Name, professionCrafting, recipe.MinLevel)
	}

	inputs := map[string]int{}
	for _, in := range recipe.Inputs {
		inputs[in.Item] += in.Count
	}
	if !p.HasItems(inputs) {
		return nil, nil, protocol.Errf(protocol.ErrNoResource, "missing ingredients for %s", recipe.Name)
	}
	if p.Gold < recipe.CostGold {
		return nil, nil, protocol.Errf(protocol.ErrNoResource, "need %d gold", recipe.CostGold)
	}
	p.RemoveItems(inputs)
	p.Gold -= recipe.CostGold

	outputs := map[string]any{}
	for _, out := range recipe.Outputs {
		outputs[out.Item] = out.Count
	}
	payload := map[string]any{"outputs": outputs, "xp": recipe.XP}

	vars := map[string]float64{"profession_level": float64(profLevel)}
	if recipe.TimeSeconds > 0 {
		vars["base_seconds"] = float64(recipe.TimeSeconds)
	}
	return payload, vars, nil
}

func (craftStrategy) grant(m *Manager, p *model.Player, a *model.TimedAction) map[string]any {
	outputs := payloadCounts(a.Payload["outputs"])
	xp := payloadInt(a.Payload, "xp")

	p.AddItems(outputs)
	levels := p.GrantProfessionXP(professionCrafting, xp, m.tune.ProfessionXPPerLevel)
	return map[string]any{"outputs": outputs, "xp": xp, "levels_gained": levels}
}

// --- payload decoding ------------------------------------------------------

// Payloads round-trip through JSON, so numbers come back as float64.

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func payloadCounts(v any) map[string]int {
	out := map[string]int{}
	raw, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for item, n := range raw {
		switch c := n.(type) {
		case float64:
			out[item] = int(c)
		case int:
			out[item] = c
		}
	}
	return out
}
