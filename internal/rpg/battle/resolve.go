package battle

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/model"
)

func defaultRand() float64 { return rand.Float64() }

// Act resolves one submitted turn action. Resolution order: reject non-ACTIVE
// and non-participants; resolve the actor's action; on termination settle and
// record — no retaliation; otherwise PvE mobs retaliate through the same
// pipeline; finally timed effects tick and the state is persisted and
// mirrored.
func (r *Resolver) Act(userID, battleID string, action model.BattleAction, skillID, itemID string) (*model.BattleSession, error) {
	if !model.ValidBattleAction(action) {
		return nil, protocol.Errf(protocol.ErrBadRequest, "unknown battle action %q", action)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		got, err := tx.GetBattle(battleID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown battle %s", battleID)
		}
		if err != nil {
			return err
		}
		if got.Status.Terminal() {
			return protocol.Errf(protocol.ErrAlreadyFinished, "battle already %s", got.Status)
		}
		if got.Status != model.BattleActive {
			return protocol.Errf(protocol.ErrConflict, "battle not started")
		}
		actor, ok := got.Participant(userID)
		if !ok {
			return protocol.Errf(protocol.ErrNotParticipant, "not your battle")
		}
		target := got.Other(userID)

		ap, err := tx.GetPlayer(userID)
		if err != nil {
			return err
		}
		var tp *model.Player
		if !target.IsMob() {
			if tp, err = tx.GetPlayer(target.PlayerID); err != nil {
				return err
			}
		}

		fled := false
		if actor.Stunned() {
			got.Append(model.BattleEvent{
				Turn: got.Turn, Actor: userID, Target: refOf(target),
				Action: action, Note: "stunned", TargetHP: target.HP, At: now,
			})
		} else {
			switch action {
			case model.ActAttack:
				got.Append(r.strike(actor, target, ap, tp, got.Turn, now))
			case model.ActDefend:
				amount := r.formulas.Evaluate("defend_bonus", map[string]float64{
					"level": float64(actor.Stats.Level),
				})
				actor.Effects = append(actor.Effects, model.Effect{
					Kind: model.EffectBuff, Stat: "defense_bonus", Amount: amount, TurnsLeft: 1,
				})
				got.Append(model.BattleEvent{
					Turn: got.Turn, Actor: userID, Action: action,
					Note: "defending", TargetHP: actor.HP, At: now,
				})
			case model.ActDodge:
				amount := r.formulas.Evaluate("dodge_stance_bonus", nil)
				actor.Effects = append(actor.Effects, model.Effect{
					Kind: model.EffectBuff, Stat: "dodge_bonus", Amount: amount, TurnsLeft: 1,
				})
				got.Append(model.BattleEvent{
					Turn: got.Turn, Actor: userID, Action: action,
					Note: "evasive", TargetHP: actor.HP, At: now,
				})
			case model.ActUseSkill:
				ev, err := r.useSkill(actor, target, ap, skillID, got.Turn, now)
				if err != nil {
					return err
				}
				got.Append(ev)
			case model.ActUseItem:
				ev, err := r.useItem(actor, ap, itemID, got.Turn, now)
				if err != nil {
					return err
				}
				got.Append(ev)
			case model.ActFlee:
				chance := formula.Clamp(r.formulas.Evaluate("flee_chance", map[string]float64{
					"agility":        float64(actor.Stats.Agility),
					"target_agility": float64(target.Stats.Agility),
				}), 0, 1)
				fled = r.draw() < chance
				note := "flee failed"
				if fled {
					note = "fled"
				}
				got.Append(model.BattleEvent{
					Turn: got.Turn, Actor: userID, Target: refOf(target),
					Action: action, Note: note, TargetHP: target.HP, At: now,
				})
			}
		}

		// Termination from the actor's move; no retaliation past this point.
		switch {
		case fled:
			got.Status = model.BattleFled
			got.WinnerID = target.PlayerID
		case target.HP <= 0:
			r.declareWinner(got, actor)
		case actor.HP <= 0:
			r.declareWinner(got, target)
		}

		// PvE retaliation through the same pipeline.
		if !got.Status.Terminal() && got.Kind == model.BattlePvE && target.IsMob() {
			if target.Stunned() {
				got.Append(model.BattleEvent{
					Turn: got.Turn, Actor: refOf(target), Target: userID,
					Action: model.ActAttack, Note: "stunned", TargetHP: actor.HP, At: now,
				})
			} else {
				got.Append(r.strike(target, actor, nil, ap, got.Turn, now))
			}
			if actor.HP <= 0 {
				r.declareWinner(got, target)
			}
		}

		// Timed effects tick once per completed turn.
		if !got.Status.Terminal() {
			r.tickSide(got, &got.Challenger, now)
			r.tickSide(got, &got.Opponent, now)
			switch {
			case got.Challenger.HP <= 0:
				r.declareWinner(got, &got.Opponent)
			case got.Opponent.HP <= 0:
				r.declareWinner(got, &got.Challenger)
			}
		}

		got.Turn++
		got.LastActionAt = now
		if got.Status.Terminal() {
			got.EndedAt = now
			r.settle(got, ap, tp)
			if err := tx.UpdateBattleGuarded(got, model.BattleActive); err != nil {
				return err
			}
			if err := tx.InsertMatch(matchOf(got)); err != nil {
				return err
			}
		} else {
			got.ExpiresAt = now.Add(r.inactivity())
			if err := tx.UpdateBattleGuarded(got, model.BattleActive); err != nil {
				return err
			}
		}
		if err := tx.PutPlayer(ap); err != nil {
			return err
		}
		if tp != nil {
			if err := tx.PutPlayer(tp); err != nil {
				return err
			}
		}
		b = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.Status.Terminal() {
		r.drop(b)
		r.store.Audit(protocol.Event{
			"type": "battle_end", "actor": userID,
			"battle_id": b.ID, "status": string(b.Status), "winner": b.WinnerID,
			"turns": b.Turn,
		})
	} else {
		r.Rearm(b, now)
	}
	return b, nil
}

// declareWinner sets the terminal status relative to the challenger side and
// floors HP at zero.
func (r *Resolver) declareWinner(b *model.BattleSession, winner *model.Combatant) {
	if b.Status.Terminal() {
		return
	}
	if b.Challenger.HP < 0 {
		b.Challenger.HP = 0
	}
	if b.Opponent.HP < 0 {
		b.Opponent.HP = 0
	}
	b.WinnerID = winner.PlayerID
	if winner == &b.Challenger {
		b.Status = model.BattleWon
	} else {
		b.Status = model.BattleLost
	}
}

func refOf(c *model.Combatant) string {
	if c.PlayerID != "" {
		return c.PlayerID
	}
	return c.MobID
}

// strike runs the shared hit/dodge/crit/damage pipeline for one attack.
// apl/dpl are the attacker's and defender's player records, nil for mobs.
func (r *Resolver) strike(attacker, defender *model.Combatant, apl, dpl *model.Player, turn int, now time.Time) model.BattleEvent {
	ev := model.BattleEvent{
		Turn: turn, Actor: refOf(attacker), Target: refOf(defender),
		Action: model.ActAttack, TargetHP: defender.HP, At: now,
	}

	var weaponDamage, hitBonus, damageBonus float64
	if apl != nil {
		w, _, bon := r.equipment(apl)
		weaponDamage = w
		hitBonus = bon["hit_bonus"]
		damageBonus = bon["damage_bonus"]
	}
	hitBonus += attacker.BuffTotal("hit_bonus")
	damageBonus += attacker.BuffTotal("damage_bonus")
	targetDefense := r.defenseOf(defender, dpl)

	var hit float64
	if attacker.IsMob() {
		hit = formula.Clamp(r.formulas.Evaluate("mob_hit_chance", map[string]float64{
			"level":        float64(attacker.Stats.Level),
			"target_level": float64(defender.Stats.Level),
		}), 0, 1)
	} else {
		hit = formula.Clamp(r.formulas.Evaluate("player_hit_chance", map[string]float64{
			"agility":        float64(attacker.Stats.Agility),
			"target_agility": float64(defender.Stats.Agility),
			"hit_bonus":      hitBonus,
		}), 0, 1)
	}
	if r.draw() >= hit {
		ev.Note = "miss"
		return ev
	}
	ev.Hit = true

	// Mobs fold evasion into the hit roll; players get a dodge roll.
	if dpl != nil {
		var dodgeBonus float64
		_, _, dbon := r.equipment(dpl)
		dodgeBonus = dbon["dodge_bonus"] + defender.BuffTotal("dodge_bonus")
		dodge := formula.Clamp(r.formulas.Evaluate("player_dodge_chance", map[string]float64{
			"agility":     float64(defender.Stats.Agility),
			"dodge_bonus": dodgeBonus,
		}), 0, 1)
		if r.draw() < dodge {
			ev.Dodged = true
			return ev
		}
	}

	critName := "player_crit_chance"
	critVars := map[string]float64{"agility": float64(attacker.Stats.Agility)}
	if attacker.IsMob() {
		critName = "mob_crit_chance"
		critVars = map[string]float64{"level": float64(attacker.Stats.Level)}
	}
	crit := formula.Clamp(r.formulas.Evaluate(critName, critVars), 0, r.tune.CritChanceCap)
	critFlag := 0.0
	if r.draw() < crit {
		ev.Crit = true
		critFlag = 1
	}

	var raw float64
	if attacker.IsMob() {
		raw = r.formulas.Evaluate("mob_damage", map[string]float64{
			"damage_min":     float64(attacker.DamageMin),
			"damage_max":     float64(attacker.DamageMax),
			"target_defense": targetDefense,
			"crit":           critFlag,
		})
	} else {
		raw = r.formulas.Evaluate("player_damage", map[string]float64{
			"strength":       float64(attacker.Stats.Strength),
			"weapon_damage":  weaponDamage,
			"damage_bonus":   damageBonus,
			"target_defense": targetDefense,
			"crit":           critFlag,
		})
	}
	dmg := int(math.Round(raw))
	if dmg < 0 {
		dmg = 0
	}
	defender.HP -= dmg
	if defender.HP < 0 {
		defender.HP = 0
	}
	ev.Damage = dmg
	ev.TargetHP = defender.HP
	return ev
}

func (r *Resolver) useSkill(actor, target *model.Combatant, ap *model.Player, skillID string, turn int, now time.Time) (model.BattleEvent, error) {
	var ev model.BattleEvent
	def, ok := r.cat.Skills.ByID[skillID]
	if !ok {
		return ev, protocol.Errf(protocol.ErrBadRequest, "unknown skill %s", skillID)
	}
	if ap.Stats.Level < def.MinLevel {
		return ev, protocol.Errf(protocol.ErrBadRequest, "%s requires level %d", def.Name, def.MinLevel)
	}
	// Insufficient mana rejects the call outright; no turn is consumed.
	if actor.Mana < def.ManaCost {
		return ev, protocol.Errf(protocol.ErrNoResource, "need %d mana", def.ManaCost)
	}
	actor.Mana -= def.ManaCost

	ev = model.BattleEvent{
		Turn: turn, Actor: refOf(actor), Target: refOf(target),
		Action: model.ActUseSkill, SkillID: skillID, TargetHP: target.HP, At: now,
	}
	switch def.Kind {
	case "damage":
		crit := formula.Clamp(r.formulas.Evaluate("player_crit_chance", map[string]float64{
			"agility": float64(actor.Stats.Agility),
		}), 0, r.tune.CritChanceCap)
		critFlag := 0.0
		if r.draw() < crit {
			ev.Crit = true
			critFlag = 1
		}
		raw := r.formulas.Evaluate("skill_damage", map[string]float64{
			"base_power":   def.BasePower,
			"intelligence": float64(actor.Stats.Intelligence),
			"crit":         critFlag,
		})
		dmg := int(math.Round(raw))
		if dmg < 0 {
			dmg = 0
		}
		target.HP -= dmg
		if target.HP < 0 {
			target.HP = 0
		}
		ev.Hit = true
		ev.Damage = dmg
		ev.TargetHP = target.HP
	case "heal":
		raw := r.formulas.Evaluate("skill_heal", map[string]float64{
			"base_power":   def.BasePower,
			"intelligence": float64(actor.Stats.Intelligence),
		})
		heal := int(math.Round(raw))
		if heal < 0 {
			heal = 0
		}
		actor.HP += heal
		if actor.HP > actor.MaxHP {
			actor.HP = actor.MaxHP
		}
		ev.Target = refOf(actor)
		ev.Heal = heal
		ev.TargetHP = actor.HP
	case "buff":
		actor.Effects = append(actor.Effects, model.Effect{
			SkillID: skillID, Kind: model.EffectBuff,
			Stat: def.Stat, Amount: def.Amount, TurnsLeft: def.Turns,
		})
		ev.Target = refOf(actor)
		ev.TargetHP = actor.HP
	case "dot":
		target.Effects = append(target.Effects, model.Effect{
			SkillID: skillID, Kind: model.EffectDoT,
			Amount: def.Amount, TurnsLeft: def.Turns,
		})
		ev.Hit = true
	case "stun":
		target.Effects = append(target.Effects, model.Effect{
			SkillID: skillID, Kind: model.EffectStun, TurnsLeft: def.Turns,
		})
		ev.Hit = true
	default:
		return ev, protocol.Errf(protocol.ErrInternal, "skill %s has invalid kind %q", skillID, def.Kind)
	}
	return ev, nil
}

func (r *Resolver) useItem(actor *model.Combatant, ap *model.Player, itemID string, turn int, now time.Time) (model.BattleEvent, error) {
	var ev model.BattleEvent
	def, ok := r.cat.Items.ByID[itemID]
	if !ok {
		return ev, protocol.Errf(protocol.ErrBadRequest, "unknown item %s", itemID)
	}
	if def.Kind != "CONSUMABLE" {
		return ev, protocol.Errf(protocol.ErrBadRequest, "%s is not consumable", def.Name)
	}
	if !ap.HasItems(map[string]int{itemID: 1}) {
		return ev, protocol.Errf(protocol.ErrNoResource, "no %s in inventory", def.Name)
	}
	ap.RemoveItems(map[string]int{itemID: 1})

	heal := def.HealHP
	if heal > 0 {
		actor.HP += heal
		if actor.HP > actor.MaxHP {
			actor.HP = actor.MaxHP
		}
	}
	if def.RestoreMana > 0 {
		actor.Mana += def.RestoreMana
		max := model.MaxMana(actor.Stats)
		if actor.Mana > max {
			actor.Mana = max
		}
	}
	return model.BattleEvent{
		Turn: turn, Actor: refOf(actor), Target: refOf(actor),
		Action: model.ActUseItem, ItemID: itemID,
		Heal: heal, TargetHP: actor.HP, At: now,
	}, nil
}

// tickSide applies damage-over-time and decrements every effect counter,
// purging expired ones.
func (r *Resolver) tickSide(b *model.BattleSession, c *model.Combatant, now time.Time) {
	var dot int
	kept := c.Effects[:0]
	for _, e := range c.Effects {
		if e.Kind == model.EffectDoT && e.TurnsLeft > 0 {
			dot += int(math.Round(e.Amount))
		}
		e.TurnsLeft--
		if e.TurnsLeft > 0 {
			kept = append(kept, e)
		}
	}
	c.Effects = kept
	if dot > 0 {
		c.HP -= dot
		if c.HP < 0 {
			c.HP = 0
		}
		b.Append(model.BattleEvent{
			Turn: b.Turn, Actor: refOf(c), Target: refOf(c),
			Action: model.ActUseSkill, Damage: dot, TargetHP: c.HP,
			Note: "damage over time", At: now,
		})
	}
}

// equipment sums the weapon damage, armor defense, and additive bonuses of
// everything the player has equipped.
func (r *Resolver) equipment(p *model.Player) (weaponDamage, armorDefense float64, bonuses map[string]float64) {
	bonuses = map[string]float64{}
	for _, id := range p.Equipment {
		def, ok := r.cat.Items.ByID[id]
		if !ok {
			continue
		}
		weaponDamage += float64(def.Damage)
		armorDefense += float64(def.Defense)
		for k, v := range def.Bonuses {
			bonuses[k] += v
		}
	}
	return weaponDamage, armorDefense, bonuses
}

func (r *Resolver) defenseOf(c *model.Combatant, pl *model.Player) float64 {
	total := float64(c.Defense)
	if pl != nil {
		_, armor, bon := r.equipment(pl)
		total += armor + bon["defense_bonus"]
	}
	total += c.BuffTotal("defense_bonus")
	return total
}

// settle applies terminal resource movement using the already-loaded player
// rows: PvP escrow settlement, PvE rewards. Recovery re-runs interrupted
// settlements through ResettleStake.
func (r *Resolver) settle(b *model.BattleSession, ap, tp *model.Player) {
	if b.Kind == model.BattlePvP {
		if b.StakeState != model.StakeHeld {
			return
		}
		pot := potOf(b)
		winner, loser := ap, tp
		if b.WinnerID != ap.ID {
			winner, loser = tp, ap
		}
		if b.Status == model.BattleFled {
			// The fleeing side forfeits a fixed fraction of the pot; the
			// remainder returns to them.
			forfeit := int64(float64(pot) * r.tune.FleeForfeitFraction)
			winner.Gold += forfeit
			loser.Gold += pot - forfeit
		} else {
			winner.Gold += pot
		}
		b.StakeState = model.StakeSettled
		return
	}

	// PvE: rewards only on a win.
	if b.Status != model.BattleWon {
		return
	}
	def, ok := r.cat.Mobs.ByID[b.Opponent.MobID]
	if !ok {
		return
	}
	gold := int64(math.Round(r.formulas.Evaluate("mob_gold_reward", map[string]float64{
		"mob_gold": float64(def.Gold),
	})))
	if gold > 0 {
		ap.Gold += gold
	}
	xp := int(math.Round(r.formulas.Evaluate("mob_xp_reward", map[string]float64{
		"mob_xp": float64(def.XP),
	})))
	ap.GrantXP(xp)
	for _, loot := range def.Loot {
		if r.draw() < loot.Chance {
			n := loot.Count
			if n <= 0 {
				n = 1
			}
			ap.AddItems(map[string]int{loot.Item: n})
		}
	}
}
