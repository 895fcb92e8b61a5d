package model

import "time"

type BattleKind string

const (
	BattlePvE BattleKind = "pve"
	BattlePvP BattleKind = "pvp"
)

type BattleStatus string

const (
	// PENDING exists only for PvP challenges awaiting acceptance.
	BattlePending BattleStatus = "PENDING"
	BattleActive  BattleStatus = "ACTIVE"
	BattleWon     BattleStatus = "WON"
	BattleLost    BattleStatus = "LOST"
	BattleFled    BattleStatus = "FLED"
	// EXPIRED and DECLINED terminate PENDING challenges.
	BattleExpired  BattleStatus = "EXPIRED"
	BattleDeclined BattleStatus = "DECLINED"
)

func (s BattleStatus) Terminal() bool {
	return s != BattlePending && s != BattleActive
}

type EffectKind string

const (
	EffectBuff EffectKind = "buff"
	EffectDoT  EffectKind = "dot"
	EffectStun EffectKind = "stun"
)

// Effect is a timed battle modifier. TurnsLeft is decremented once per
// completed turn and the effect is purged at zero. Buff amounts of the same
// stat stack additively.
type Effect struct {
	SkillID   string     `json:"skill_id"`
	Kind      EffectKind `json:"kind"`
	Stat      string     `json:"stat,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	TurnsLeft int        `json:"turns_left"`
}

// Combatant is one side of a battle: a player, or a mob instantiated from
// its template. Mob combatants have an empty PlayerID.
type Combatant struct {
	PlayerID string `json:"player_id,omitempty"`
	MobID    string `json:"mob_id,omitempty"`
	Name     string `json:"name"`

	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`
	Mana  int `json:"mana"`

	Stats   Stats    `json:"stats"`
	Effects []Effect `json:"effects,omitempty"`

	// Mob-only damage range and base defense; player damage and defense
	// come from stats and equipment.
	DamageMin int `json:"damage_min,omitempty"`
	DamageMax int `json:"damage_max,omitempty"`
	Defense   int `json:"defense,omitempty"`
}

func (c *Combatant) IsMob() bool { return c.PlayerID == "" }

// BuffTotal sums active additive buff amounts for the named stat.
func (c *Combatant) BuffTotal(stat string) float64 {
	var total float64
	for _, e := range c.Effects {
		if e.Kind == EffectBuff && e.Stat == stat && e.TurnsLeft > 0 {
			total += e.Amount
		}
	}
	return total
}

func (c *Combatant) Stunned() bool {
	for _, e := range c.Effects {
		if e.Kind == EffectStun && e.TurnsLeft > 0 {
			return true
		}
	}
	return false
}

type BattleAction string

const (
	ActAttack   BattleAction = "ATTACK"
	ActDefend   BattleAction = "DEFEND"
	ActDodge    BattleAction = "DODGE"
	ActUseSkill BattleAction = "USE_SKILL"
	ActUseItem  BattleAction = "USE_ITEM"
	ActFlee     BattleAction = "FLEE"
)

func ValidBattleAction(a BattleAction) bool {
	switch a {
	case ActAttack, ActDefend, ActDodge, ActUseSkill, ActUseItem, ActFlee:
		return true
	}
	return false
}

// BattleEvent is one entry of the append-only turn log.
type BattleEvent struct {
	Seq    int          `json:"seq"`
	Turn   int          `json:"turn"`
	Actor  string       `json:"actor"`
	Target string       `json:"target,omitempty"`
	Action BattleAction `json:"action"`

	SkillID string `json:"skill_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`

	Hit    bool `json:"hit,omitempty"`
	Crit   bool `json:"crit,omitempty"`
	Dodged bool `json:"dodged,omitempty"`

	Damage   int `json:"damage,omitempty"`
	Heal     int `json:"heal,omitempty"`
	TargetHP int `json:"target_hp"`

	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// StakeState tracks the PvP escrow ledger: funds are HELD as they are
// debited, then SETTLED to the winner (or split on a flee) or RELEASED back
// without settlement. A terminal battle whose stake is still HELD indicates
// a crash mid-settlement and is repaired during recovery.
type StakeState string

const (
	StakeNone     StakeState = ""
	StakeHeld     StakeState = "HELD"
	StakeSettled  StakeState = "SETTLED"
	StakeReleased StakeState = "RELEASED"
)

type BattleSession struct {
	ID     string       `json:"id"`
	Kind   BattleKind   `json:"kind"`
	Status BattleStatus `json:"status"`

	Challenger Combatant `json:"challenger"`
	Opponent   Combatant `json:"opponent"`

	Stake            int64      `json:"stake,omitempty"`
	StakeState       StakeState `json:"stake_state,omitempty"`
	ChallengerStaked bool       `json:"challenger_staked,omitempty"`
	OpponentStaked   bool       `json:"opponent_staked,omitempty"`

	Turn     int           `json:"turn"`
	Log      []BattleEvent `json:"log"`
	WinnerID string        `json:"winner_id,omitempty"`

	StartedAt    time.Time `json:"started_at"`
	LastActionAt time.Time `json:"last_action_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	// PENDING: challenge expiry. ACTIVE: inactivity bound, pushed on each turn.
	ExpiresAt time.Time `json:"expires_at"`
}

func (b *BattleSession) Participant(userID string) (*Combatant, bool) {
	if b.Challenger.PlayerID == userID && userID != "" {
		return &b.Challenger, true
	}
	if b.Opponent.PlayerID == userID && userID != "" {
		return &b.Opponent, true
	}
	return nil, false
}

// Other returns the side opposing userID.
func (b *BattleSession) Other(userID string) *Combatant {
	if b.Challenger.PlayerID == userID {
		return &b.Opponent
	}
	return &b.Challenger
}

func (b *BattleSession) Append(ev BattleEvent) {
	ev.Seq = len(b.Log)
	b.Log = append(b.Log, ev)
}

// MatchRecord is the immutable historical form of a finished battle.
type MatchRecord struct {
	BattleID     string       `json:"battle_id"`
	Kind         BattleKind   `json:"kind"`
	Status       BattleStatus `json:"status"`
	ChallengerID string       `json:"challenger_id"`
	OpponentRef  string       `json:"opponent_ref"`
	WinnerID     string       `json:"winner_id,omitempty"`
	Stake        int64        `json:"stake,omitempty"`
	Pot          int64        `json:"pot,omitempty"`
	Turns        int          `json:"turns"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      time.Time    `json:"ended_at"`
}
