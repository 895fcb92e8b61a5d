// Package actions runs the start/complete protocol shared by every timed
// action kind (travel, gather, craft). Kind-specific rules live behind a
// small strategy: eligibility, upfront cost, reward grant. Everything else
// — the single-active-action rule, snapshot write, cache mirror, timer
// bookkeeping, idempotent completion — is common.
package actions

import (
	"errors"
	"log"
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

// Timers is the scheduler surface the manager needs; satisfied by
// *scheduler.Scheduler.
type Timers interface {
	Schedule(entityID string, delay time.Duration)
	Forget(entityID string)
}

type Manager struct {
	store    *gamedb.Store
	cache    *cache.Cache
	formulas *formula.Engine
	cat      *catalogs.Catalogs
	tune     tuning.Tuning
	log      *log.Logger

	timers Timers
	now    func() time.Time
}

func New(store *gamedb.Store, c *cache.Cache, eng *formula.Engine, cat *catalogs.Catalogs, tune tuning.Tuning, logger *log.Logger) *Manager {
	return &Manager{
		store:    store,
		cache:    c,
		formulas: eng,
		cat:      cat,
		tune:     tune,
		log:      logger,
		now:      time.Now,
	}
}

// BindTimers attaches the scheduler; called once during wiring, before any
// request is served.
func (m *Manager) BindTimers(t Timers) { m.timers = t }

// SetClock overrides the time source; tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start validates eligibility, debits any upfront cost, and creates the
// action — all inside the transaction that enforces "one active action per
// user". The snapshot rides in the same transaction; cache and timer are
// armed only after commit.
func (m *Manager) Start(userID string, kind model.ActionKind, targetID string) (*model.TimedAction, error) {
	st, ok := strategies[kind]
	if !ok {
		return nil, protocol.Errf(protocol.ErrBadRequest, "unknown action kind %q", kind)
	}
	if userID == "" || targetID == "" {
		return nil, protocol.Errf(protocol.ErrBadRequest, "user and target are required")
	}

	now := m.now().UTC()
	var act *model.TimedAction
	err := m.store.WithTx(func(tx *gamedb.Tx) error {
		p, err := tx.GetPlayer(userID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown player %s", userID)
		}
		if err != nil {
			return err
		}

		payload, vars, err := st.prepare(m, p, targetID)
		if err != nil {
			return err
		}
		if vars == nil {
			vars = map[string]float64{}
		}
		if _, ok := vars["base_seconds"]; !ok {
			vars["base_seconds"] = float64(st.baseSeconds(m.tune))
		}
		secs := formula.Clamp(m.formulas.Evaluate(st.formulaName(), vars), 1, 24*3600)

		act = &model.TimedAction{
			ID:        model.NewID(),
			Kind:      kind,
			UserID:    userID,
			TargetID:  targetID,
			Status:    model.ActionActive,
			StartedAt: now,
			EndsAt:    now.Add(time.Duration(secs * float64(time.Second))),
			Payload:   payload,
		}
		if err := tx.InsertAction(act); err != nil {
			if errors.Is(err, gamedb.ErrConflict) {
				return protocol.Errf(protocol.ErrConflict, "an action is already running")
			}
			return err
		}

		blob, err := snapshot.Encode(string(model.SnapshotAction), act.ID, act)
		if err != nil {
			return err
		}
		sn := &model.StateSnapshot{
			ID:        model.NewID(),
			Kind:      model.SnapshotAction,
			Owner:     userID,
			EntityID:  act.ID,
			Payload:   blob,
			ExpiresAt: act.EndsAt.Add(time.Duration(m.tune.SnapshotTTLSeconds) * time.Second),
		}
		if err := tx.InsertSnapshot(sn); err != nil {
			return err
		}
		return tx.PutPlayer(p)
	})
	if err != nil {
		return nil, err
	}

	m.Rearm(act, now)
	m.store.Audit(protocol.Event{
		"type": "action_start", "actor": userID,
		"action_id": act.ID, "kind": string(kind), "target": targetID,
		"ends_at": act.EndsAt,
	})
	return act, nil
}

// Complete finishes the action and grants its rewards. Idempotent: a second
// invocation (timer racing recovery, or a duplicated sweep hit) observes the
// terminal row and does nothing.
func (m *Manager) Complete(actionID string) (*model.TimedAction, error) {
	now := m.now().UTC()
	var act *model.TimedAction
	var fields map[string]any
	granted := false

	err := m.store.WithTx(func(tx *gamedb.Tx) error {
		a, err := tx.GetAction(actionID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown action %s", actionID)
		}
		if err != nil {
			return err
		}
		act = a
		if a.Status.Terminal() {
			return nil
		}
		st, ok := strategies[a.Kind]
		if !ok {
			return protocol.Errf(protocol.ErrInternal, "no strategy for action kind %q", a.Kind)
		}
		p, err := tx.GetPlayer(a.UserID)
		if err != nil {
			return err
		}
		fields = st.grant(m, p, a)
		a.Status = model.ActionDone
		a.EndedAt = now
		if err := tx.UpdateActionGuarded(a, model.ActionActive); err != nil {
			return err
		}
		granted = true
		return tx.PutPlayer(p)
	})
	if err != nil {
		return nil, err
	}

	st := strategies[act.Kind]
	m.cache.Delete(st.cacheKey(act.UserID))
	if m.timers != nil {
		m.timers.Forget(act.ID)
	}
	if granted {
		ev := protocol.Event{
			"type": "action_complete", "actor": act.UserID,
			"action_id": act.ID, "kind": string(act.Kind), "target": act.TargetID,
		}
		for k, v := range fields {
			ev[k] = v
		}
		m.store.Audit(ev)
	}
	return act, nil
}

// HandleDue adapts Complete to the scheduler's fire signature. The action is
// re-loaded fresh inside Complete, so a stale timer is a no-op.
func (m *Manager) HandleDue(actionID string) {
	if _, err := m.Complete(actionID); err != nil && m.log != nil {
		m.log.Printf("action %s: completion failed: %v", actionID, err)
	}
}

// Cancel flips the action terminal, superseding the pending timer. Upfront
// costs are sunk: starting the action spent them, cancelling does not claw
// them back.
func (m *Manager) Cancel(userID, actionID string) (*model.TimedAction, error) {
	now := m.now().UTC()
	var act *model.TimedAction
	err := m.store.WithTx(func(tx *gamedb.Tx) error {
		a, err := tx.GetAction(actionID)
		if errors.Is(err, gamedb.ErrNotFound) {
			return protocol.Errf(protocol.ErrNotFound, "unknown action %s", actionID)
		}
		if err != nil {
			return err
		}
		if a.UserID != userID {
			return protocol.Errf(protocol.ErrNotParticipant, "action belongs to another player")
		}
		if a.Status.Terminal() {
			return protocol.Errf(protocol.ErrAlreadyFinished, "action already %s", a.Status)
		}
		a.Status = model.ActionCancelled
		a.EndedAt = now
		act = a
		return tx.UpdateActionGuarded(a, model.ActionActive)
	})
	if err != nil {
		return nil, err
	}

	m.cache.Delete(strategies[act.Kind].cacheKey(userID))
	if m.timers != nil {
		m.timers.Forget(act.ID)
	}
	m.store.Audit(protocol.Event{
		"type": "action_cancel", "actor": userID,
		"action_id": act.ID, "kind": string(act.Kind),
	})
	return act, nil
}

// Status is the query view of a running action.
type Status struct {
	Action           *model.TimedAction `json:"action"`
	Progress         float64            `json:"progress"`
	RemainingSeconds float64            `json:"remaining_seconds"`
}

// Query returns the user's current action, read-through: a cache hit serves
// directly, a miss re-reads the store and re-mirrors.
func (m *Manager) Query(userID string) (*Status, error) {
	now := m.now().UTC()
	for _, st := range strategies {
		if v, ok := m.cache.Get(st.cacheKey(userID)); ok {
			if a, ok := v.(*model.TimedAction); ok {
				return &Status{Action: a, Progress: a.Progress(now), RemainingSeconds: a.Remaining(now).Seconds()}, nil
			}
		}
	}

	a, err := m.store.ActiveActionByUser(userID)
	if errors.Is(err, gamedb.ErrNotFound) {
		return nil, protocol.Errf(protocol.ErrNotFound, "no action running")
	}
	if err != nil {
		return nil, err
	}
	m.Rearm(a, now)
	return &Status{Action: a, Progress: a.Progress(now), RemainingSeconds: a.Remaining(now).Seconds()}, nil
}

// Rearm mirrors the action into the cache with its remaining TTL and arms
// the completion timer; used after Start and by startup recovery.
func (m *Manager) Rearm(a *model.TimedAction, now time.Time) {
	if a == nil || a.Status.Terminal() {
		return
	}
	st, ok := strategies[a.Kind]
	if !ok {
		return
	}
	m.cache.Set(st.cacheKey(a.UserID), a, a.Remaining(now))
	if m.timers != nil {
		m.timers.Schedule(a.ID, a.Remaining(now))
	}
}
