// Package recovery reconciles durable state at startup, before any request
// is served: overdue entities get their expiry policy applied, in-window
// ones are re-mirrored and re-armed, interrupted stake settlements finish,
// and unconsumed snapshots reconstruct entities whose primary write was
// lost. Every row is processed independently; one bad row is logged and
// skipped.
package recovery

import (
	"errors"
	"fmt"
	"log"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/persistence/snapshot"
	"fablebot.gg/internal/rpg/actions"
	"fablebot.gg/internal/rpg/battle"
	"fablebot.gg/internal/rpg/model"
)

type Coordinator struct {
	store   *gamedb.Store
	actions *actions.Manager
	battles *battle.Resolver
	log     *log.Logger
	now     func() time.Time
}

func New(store *gamedb.Store, am *actions.Manager, br *battle.Resolver, logger *log.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		actions: am,
		battles: br,
		log:     logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source; tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

func (c *Coordinator) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

// Run executes the full reconciliation pass. It is idempotent: running it
// twice over the same rows completes nothing twice and reconstructs no
// duplicates.
func (c *Coordinator) Run() error {
	now := c.now().UTC()

	// Snapshots first, so a reconstructed entity goes through the same
	// overdue/re-arm pass as everything else below.
	snaps, err := c.store.UnrestoredSnapshots(now)
	if err != nil {
		return fmt.Errorf("recovery: list snapshots: %w", err)
	}
	for i := range snaps {
		if err := c.restoreSnapshot(&snaps[i]); err != nil {
			c.logf("recovery: snapshot %s: %v", snaps[i].ID, err)
		}
	}

	acts, err := c.store.ListActiveActions()
	if err != nil {
		return fmt.Errorf("recovery: list actions: %w", err)
	}
	for i := range acts {
		a := &acts[i]
		if a.Overdue(now) {
			if _, err := c.actions.Complete(a.ID); err != nil {
				c.logf("recovery: action %s: %v", a.ID, err)
			}
		} else {
			c.actions.Rearm(a, now)
		}
	}

	battles, err := c.store.ListActiveBattles()
	if err != nil {
		return fmt.Errorf("recovery: list battles: %w", err)
	}
	for i := range battles {
		b := &battles[i]
		switch {
		case now.Before(b.ExpiresAt):
			c.battles.Rearm(b, now)
		case b.Status == model.BattlePending:
			if err := c.battles.Expire(b.ID); err != nil {
				c.logf("recovery: battle %s: %v", b.ID, err)
			}
		default:
			if err := c.battles.ForceLoss(b.ID); err != nil {
				c.logf("recovery: battle %s: %v", b.ID, err)
			}
		}
	}

	held, err := c.store.ListHeldTerminalBattles()
	if err != nil {
		return fmt.Errorf("recovery: list held stakes: %w", err)
	}
	for i := range held {
		if err := c.battles.ResettleStake(held[i].ID); err != nil {
			c.logf("recovery: stake %s: %v", held[i].ID, err)
		}
	}
	return nil
}

// restoreSnapshot reconstructs the entity a snapshot backs if — and only if
// — no primary row exists for it, then flips the one-way restored flag.
func (c *Coordinator) restoreSnapshot(sn *model.StateSnapshot) error {
	switch sn.Kind {
	case model.SnapshotAction:
		var a model.TimedAction
		if _, err := snapshot.Decode(sn.Payload, &a); err != nil {
			return err
		}
		return c.store.WithTx(func(tx *gamedb.Tx) error {
			exists, err := tx.ActionExists(sn.EntityID)
			if err != nil {
				return err
			}
			if !exists {
				if err := tx.InsertAction(&a); err != nil && !errors.Is(err, gamedb.ErrConflict) {
					return err
				}
			}
			return tx.MarkSnapshotRestored(sn.ID)
		})
	case model.SnapshotBattle:
		var b model.BattleSession
		if _, err := snapshot.Decode(sn.Payload, &b); err != nil {
			return err
		}
		return c.store.WithTx(func(tx *gamedb.Tx) error {
			exists, err := tx.BattleExists(sn.EntityID)
			if err != nil {
				return err
			}
			if !exists {
				if err := tx.InsertBattle(&b); err != nil && !errors.Is(err, gamedb.ErrConflict) {
					return err
				}
			}
			return tx.MarkSnapshotRestored(sn.ID)
		})
	}
	return fmt.Errorf("unknown snapshot kind %q", sn.Kind)
}
