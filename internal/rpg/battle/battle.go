// Package battle owns the combat session lifecycle: PvE encounters, PvP
// challenges with escrowed stakes, turn resolution, and terminal settlement.
// One call to Act is one submitted turn action; PvE mobs retaliate inside
// the same call.
package battle

import (
	"errors"
	"log"
	"sync"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/persistence/snapshot"
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/tuning"
)

// Timers is the scheduler surface the resolver needs; satisfied by
// *scheduler.Scheduler.
type Timers interface {
	Schedule(entityID string, delay time.Duration)
	Forget(entityID string)
}

type Resolver struct {
	store    *gamedb.Store
	cache    *cache.Cache
	formulas *formula.Engine
	cat      *catalogs.Catalogs
	tune     tuning.Tuning
	log      *log.Logger

	timers Timers
	now    func() time.Time

	randMu sync.Mutex
	rand   func() float64

	// Serializes turn resolution; duplicated requests against the same
	// battle id are otherwise only guarded by the ACTIVE-status check.
	mu sync.Mutex
}

func New(store *gamedb.Store, c *cache.Cache, eng *formula.Engine, cat *catalogs.Catalogs, tune tuning.Tuning, logger *log.Logger) *Resolver {
	return &Resolver{
		store:    store,
		cache:    c,
		formulas: eng,
		cat:      cat,
		tune:     tune,
		log:      logger,
		now:      time.Now,
		rand:     defaultRand,
	}
}

func (r *Resolver) BindTimers(t Timers) { r.timers = t }

// SetClock overrides the time source; tests only.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// SetRand replaces the uniform source for hit/crit/dodge/flee/loot rolls.
// Tests pin draws here; the formula engine's rand() is pinned separately.
func (r *Resolver) SetRand(fn func() float64) {
	r.randMu.Lock()
	r.rand = fn
	r.randMu.Unlock()
}

func (r *Resolver) draw() float64 {
	r.randMu.Lock()
	fn := r.rand
	r.randMu.Unlock()
	return fn()
}

func (r *Resolver) inactivity() time.Duration {
	return time.Duration(r.tune.BattleInactivitySeconds) * time.Second
}

func playerCombatant(p *model.Player) model.Combatant {
	return model.Combatant{
		PlayerID: p.ID,
		Name:     p.Name,
		HP:       model.MaxHP(p.Stats),
		MaxHP:    model.MaxHP(p.Stats),
		Mana:     model.MaxMana(p.Stats),
		Stats:    p.Stats,
	}
}

func mobCombatant(def catalogs.MobDef) model.Combatant {
	return model.Combatant{
		MobID:     def.ID,
		Name:      def.Name,
		HP:        def.HP,
		MaxHP:     def.HP,
		Stats:     model.Stats{Level: def.Level, Agility: def.Agility},
		DamageMin: def.DamageMin,
		DamageMax: def.DamageMax,
		Defense:   def.Defense,
	}
}

// StartPvE opens an encounter against a mob template. The battle is ACTIVE
// immediately; the expiry timer bounds player inactivity.
func (r *Resolver) StartPvE(userID, mobID string) (*model.BattleSession, error) {
	def, ok := r.cat.Mobs.ByID[mobID]
	if !ok {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown mob %s", mobID)
	}

	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		p, err := tx.GetPlayer(userID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown player %s", userID)
		}
		if err != nil {
			return err
		}
		b = &model.BattleSession{
			ID:           model.NewID(),
			Kind:         model.BattlePvE,
			Status:       model.BattleActive,
			Challenger:   playerCombatant(p),
			Opponent:     mobCombatant(def),
			StartedAt:    now,
			LastActionAt: now,
			ExpiresAt:    now.Add(r.inactivity()),
		}
		if err := tx.InsertBattle(b); err != nil {
			if errors.Is(err, gamedb.ErrConflict) {
				return protocol.Errf(protocol.ErrConflict, "a battle is already running")
			}
			return err
		}
		return r.insertBattleSnapshot(tx, b)
	})
	if err != nil {
		return nil, err
	}

	r.Rearm(b, now)
	r.store.Audit(protocol.Event{
		"type": "battle_start", "actor": userID,
		"battle_id": b.ID, "kind": "pve", "mob": mobID,
	})
	return b, nil
}

// Challenge opens a PvP challenge. The challenger's stake is escrowed here,
// before the opponent ever sees the challenge; declining or expiry releases
// it. The insert rejects a second non-terminal PvP battle touching either
// participant.
func (r *Resolver) Challenge(challengerID, opponentID string, stake int64) (*model.BattleSession, error) {
	if opponentID == "" || opponentID == challengerID {
		return nil, protocol.Errf(protocol.ErrBadRequest, "invalid opponent")
	}
	if stake < 0 || stake > r.tune.MaxStake {
		return nil, protocol.Errf(protocol.ErrBadRequest, "stake must be between 0 and %d", r.tune.MaxStake)
	}

	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		ch, err := tx.GetPlayer(challengerID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown player %s", challengerID)
		}
		if err != nil {
			return err
		}
		op, err := tx.GetPlayer(opponentID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown player %s", opponentID)
		}
		if err != nil {
			return err
		}
		if ch.Gold < stake {
			return protocol.Errf(protocol.ErrNoResource, "need %d gold to stake", stake)
		}

		b = &model.BattleSession{
			ID:           model.NewID(),
			Kind:         model.BattlePvP,
			Status:       model.BattlePending,
			Challenger:   playerCombatant(ch),
			Opponent:     playerCombatant(op),
			Stake:        stake,
			StartedAt:    now,
			LastActionAt: now,
			ExpiresAt:    now.Add(time.Duration(r.tune.ChallengeExpirySeconds) * time.Second),
		}
		if stake > 0 {
			ch.Gold -= stake
			b.StakeState = model.StakeHeld
			b.ChallengerStaked = true
		}
		if err := tx.InsertBattle(b); err != nil {
			if errors.Is(err, gamedb.ErrConflict) {
				return protocol.Errf(protocol.ErrConflict, "a pvp battle is already running")
			}
			return err
		}
		if err := r.insertBattleSnapshot(tx, b); err != nil {
			return err
		}
		return tx.PutPlayer(ch)
	})
	if err != nil {
		return nil, err
	}

	r.Rearm(b, now)
	r.store.Audit(protocol.Event{
		"type": "battle_challenge", "actor": challengerID,
		"battle_id": b.ID, "opponent": opponentID, "stake": stake,
	})
	return b, nil
}

// Accept escrows the opponent's stake and activates the fight.
func (r *Resolver) Accept(userID, battleID string) (*model.BattleSession, error) {
	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		var err error
		b, err = r.pendingFor(tx, userID, battleID, now)
		if err != nil {
			return err
		}
		op, err := tx.GetPlayer(userID)
		if err != nil {
			return err
		}
		if b.Stake > 0 {
			if op.Gold < b.Stake {
				return protocol.Errf(protocol.ErrNoResource, "need %d gold to match the stake", b.Stake)
			}
			op.Gold -= b.Stake
			b.OpponentStaked = true
		}
		b.Status = model.BattleActive
		b.StartedAt = now
		b.LastActionAt = now
		b.ExpiresAt = now.Add(r.inactivity())
		if err := tx.UpdateBattleGuarded(b, model.BattlePending); err != nil {
			return err
		}
		return tx.PutPlayer(op)
	})
	if err != nil {
		return nil, err
	}

	r.Rearm(b, now)
	r.store.Audit(protocol.Event{
		"type": "battle_accept", "actor": userID, "battle_id": b.ID,
	})
	return b, nil
}

// Decline terminates a pending challenge and releases the challenger's hold.
func (r *Resolver) Decline(userID, battleID string) (*model.BattleSession, error) {
	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		var err error
		b, err = r.pendingFor(tx, userID, battleID, now)
		if err != nil {
			return err
		}
		b.Status = model.BattleDeclined
		b.EndedAt = now
		if err := r.releaseHold(tx, b); err != nil {
			return err
		}
		return tx.UpdateBattleGuarded(b, model.BattlePending)
	})
	if err != nil {
		return nil, err
	}

	r.drop(b)
	r.store.Audit(protocol.Event{
		"type": "battle_decline", "actor": userID, "battle_id": b.ID,
	})
	return b, nil
}

func (r *Resolver) pendingFor(tx *gamedb.Tx, userID, battleID string, now time.Time) (*model.BattleSession, error) {
	b, err := tx.GetBattle(battleID)
	if errors.Is(err, gamedb.ErrNotFound) {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown battle %s", battleID)
	}
	if err != nil {
		return nil, err
	}
	if b.Status != model.BattlePending {
		return nil, protocol.Errf(protocol.ErrAlreadyFinished, "challenge already %s", b.Status)
	}
	if b.Opponent.PlayerID != userID {
		return nil, protocol.Errf(protocol.ErrNotParticipant, "challenge is not addressed to you")
	}
	if !now.Before(b.ExpiresAt) {
		return nil, protocol.Errf(protocol.ErrAlreadyFinished, "challenge expired")
	}
	return b, nil
}

// Expire moves a PENDING challenge past its deadline to EXPIRED and releases
// the challenger's hold. Safe against stale timers: a challenge that was
// accepted or declined in the meantime is left alone.
func (r *Resolver) Expire(battleID string) error {
	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		got, err := tx.GetBattle(battleID)
		if err != nil {
			return err
		}
		if got.Status != model.BattlePending || now.Before(got.ExpiresAt) {
			return nil
		}
		got.Status = model.BattleExpired
		got.EndedAt = now
		if err := r.releaseHold(tx, got); err != nil {
			return err
		}
		if err := tx.UpdateBattleGuarded(got, model.BattlePending); err != nil {
			return err
		}
		b = got
		return nil
	})
	if err != nil || b == nil {
		return err
	}

	r.drop(b)
	r.store.Audit(protocol.Event{
		"type": "battle_expired", "actor": b.Challenger.PlayerID, "battle_id": b.ID,
	})
	return nil
}

// ForceLoss terminates an ACTIVE battle whose inactivity bound has passed.
// PvE: the player takes a forced LOST with a percentage gold penalty. PvP:
// the side that acted last takes the pot; if nobody ever acted, the stakes
// are released.
func (r *Resolver) ForceLoss(battleID string) error {
	now := r.now().UTC()
	var b *model.BattleSession
	err := r.store.WithTx(func(tx *gamedb.Tx) error {
		got, err := tx.GetBattle(battleID)
		if err != nil {
			return err
		}
		if got.Status != model.BattleActive || now.Before(got.ExpiresAt) {
			return nil
		}

		if got.Kind == model.BattlePvE {
			p, err := tx.GetPlayer(got.Challenger.PlayerID)
			if err != nil {
				return err
			}
			penalty := int64(float64(p.Gold) * r.tune.ForcedLossPenaltyPct)
			p.Gold -= penalty
			got.Status = model.BattleLost
			if err := tx.PutPlayer(p); err != nil {
				return err
			}
		} else {
			winnerID := lastActorID(got)
			got.WinnerID = winnerID
			if winnerID == got.Challenger.PlayerID && winnerID != "" {
				got.Status = model.BattleWon
			} else {
				got.Status = model.BattleLost
			}
			if got.StakeState == model.StakeHeld {
				if winnerID != "" {
					if err := creditPlayer(tx, winnerID, potOf(got)); err != nil {
						return err
					}
					got.StakeState = model.StakeSettled
				} else {
					if err := r.refundStakes(tx, got); err != nil {
						return err
					}
					got.StakeState = model.StakeReleased
				}
			}
		}
		got.EndedAt = now
		if err := tx.UpdateBattleGuarded(got, model.BattleActive); err != nil {
			return err
		}
		if err := tx.InsertMatch(matchOf(got)); err != nil {
			return err
		}
		b = got
		return nil
	})
	if err != nil || b == nil {
		return err
	}

	r.drop(b)
	r.store.Audit(protocol.Event{
		"type": "battle_forced_loss", "actor": b.Challenger.PlayerID,
		"battle_id": b.ID, "kind": string(b.Kind),
	})
	return nil
}

// HandleDue adapts expiry handling to the scheduler's fire signature. The
// battle is re-loaded fresh; an already-terminal one is a no-op.
func (r *Resolver) HandleDue(battleID string) {
	b, err := r.store.GetBattle(battleID)
	if err != nil {
		if !errors.Is(err, gamedb.ErrNotFound) && r.log != nil {
			r.log.Printf("battle %s: due lookup failed: %v", battleID, err)
		}
		return
	}
	switch b.Status {
	case model.BattlePending:
		err = r.Expire(battleID)
	case model.BattleActive:
		err = r.ForceLoss(battleID)
	default:
		return
	}
	if err != nil && r.log != nil {
		r.log.Printf("battle %s: expiry handling failed: %v", battleID, err)
	}
}

// Get returns the session for a participant, read-through the cache.
func (r *Resolver) Get(userID, battleID string) (*model.BattleSession, error) {
	if v, ok := r.cache.Get(cache.BattleKey(battleID)); ok {
		if b, ok := v.(*model.BattleSession); ok {
			if _, part := b.Participant(userID); !part {
				return nil, protocol.Errf(protocol.ErrNotParticipant, "not your battle")
			}
			return b, nil
		}
	}
	b, err := r.store.GetBattle(battleID)
	if errors.Is(err, gamedb.ErrNotFound) {
		return nil, protocol.Errf(protocol.ErrNotFound, "unknown battle %s", battleID)
	}
	if err != nil {
		return nil, err
	}
	if _, part := b.Participant(userID); !part {
		return nil, protocol.Errf(protocol.ErrNotParticipant, "not your battle")
	}
	if !b.Status.Terminal() {
		r.Rearm(b, r.now().UTC())
	}
	return b, nil
}

// Rearm mirrors the battle into the cache with its remaining TTL and arms
// the expiry timer; used after every mutation and by startup recovery.
func (r *Resolver) Rearm(b *model.BattleSession, now time.Time) {
	if b == nil || b.Status.Terminal() {
		return
	}
	ttl := b.ExpiresAt.Sub(now)
	r.cache.Set(cache.BattleKey(b.ID), b, ttl)
	if r.timers != nil {
		r.timers.Schedule(b.ID, ttl)
	}
}

func (r *Resolver) drop(b *model.BattleSession) {
	r.cache.Delete(cache.BattleKey(b.ID))
	if r.timers != nil {
		r.timers.Forget(b.ID)
	}
}

// ResettleStake finishes an interrupted stake settlement: a terminal battle
// whose escrow is still HELD. Recovery calls this; a battle already settled
// is a no-op.
func (r *Resolver) ResettleStake(battleID string) error {
	return r.store.WithTx(func(tx *gamedb.Tx) error {
		b, err := tx.GetBattle(battleID)
		if err != nil {
			return err
		}
		if !b.Status.Terminal() || b.StakeState != model.StakeHeld {
			return nil
		}
		pot := potOf(b)
		switch b.Status {
		case model.BattleWon, model.BattleLost:
			if b.WinnerID != "" {
				if err := creditPlayer(tx, b.WinnerID, pot); err != nil {
					return err
				}
				b.StakeState = model.StakeSettled
			} else {
				if err := r.refundStakes(tx, b); err != nil {
					return err
				}
				b.StakeState = model.StakeReleased
			}
		case model.BattleFled:
			forfeit := int64(float64(pot) * r.tune.FleeForfeitFraction)
			fleerID := b.Challenger.PlayerID
			if b.WinnerID == b.Challenger.PlayerID {
				fleerID = b.Opponent.PlayerID
			}
			if err := creditPlayer(tx, b.WinnerID, forfeit); err != nil {
				return err
			}
			if err := creditPlayer(tx, fleerID, pot-forfeit); err != nil {
				return err
			}
			b.StakeState = model.StakeSettled
		default: // EXPIRED, DECLINED
			if err := r.refundStakes(tx, b); err != nil {
				return err
			}
			b.StakeState = model.StakeReleased
		}
		return tx.UpdateBattleStake(b)
	})
}

func (r *Resolver) insertBattleSnapshot(tx *gamedb.Tx, b *model.BattleSession) error {
	blob, err := snapshot.Encode(string(model.SnapshotBattle), b.ID, b)
	if err != nil {
		return err
	}
	return tx.InsertSnapshot(&model.StateSnapshot{
		ID:        model.NewID(),
		Kind:      model.SnapshotBattle,
		Owner:     b.Challenger.PlayerID,
		EntityID:  b.ID,
		Payload:   blob,
		ExpiresAt: b.ExpiresAt.Add(time.Duration(r.tune.SnapshotTTLSeconds) * time.Second),
	})
}

func (r *Resolver) releaseHold(tx *gamedb.Tx, b *model.BattleSession) error {
	if b.StakeState != model.StakeHeld {
		return nil
	}
	if err := r.refundStakes(tx, b); err != nil {
		return err
	}
	b.StakeState = model.StakeReleased
	return nil
}

func (r *Resolver) refundStakes(tx *gamedb.Tx, b *model.BattleSession) error {
	if b.ChallengerStaked {
		if err := creditPlayer(tx, b.Challenger.PlayerID, b.Stake); err != nil {
			return err
		}
	}
	if b.OpponentStaked {
		if err := creditPlayer(tx, b.Opponent.PlayerID, b.Stake); err != nil {
			return err
		}
	}
	return nil
}

func creditPlayer(tx *gamedb.Tx, id string, amount int64) error {
	if id == "" || amount <= 0 {
		return nil
	}
	p, err := tx.GetPlayer(id)
	if err != nil {
		return err
	}
	p.Gold += amount
	return tx.PutPlayer(p)
}

func potOf(b *model.BattleSession) int64 {
	var pot int64
	if b.ChallengerStaked {
		pot += b.Stake
	}
	if b.OpponentStaked {
		pot += b.Stake
	}
	return pot
}

func lastActorID(b *model.BattleSession) string {
	for i := len(b.Log) - 1; i >= 0; i-- {
		actor := b.Log[i].Actor
		if actor == b.Challenger.PlayerID || actor == b.Opponent.PlayerID {
			return actor
		}
	}
	return ""
}

func matchOf(b *model.BattleSession) *model.MatchRecord {
	opponentRef := b.Opponent.PlayerID
	if opponentRef == "" {
		opponentRef = b.Opponent.MobID
	}
	return &model.MatchRecord{
		BattleID:     b.ID,
		Kind:         b.Kind,
		Status:       b.Status,
		ChallengerID: b.Challenger.PlayerID,
		OpponentRef:  opponentRef,
		WinnerID:     b.WinnerID,
		Stake:        b.Stake,
		Pot:          potOf(b),
		Turns:        b.Turn,
		StartedAt:    b.StartedAt,
		EndedAt:      b.EndedAt,
	}
}
