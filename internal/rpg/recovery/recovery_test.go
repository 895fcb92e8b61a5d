package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/persistence/snapshot"
	"fablebot.gg/internal/rpg/actions"
	"fablebot.gg/internal/rpg/battle"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/tuning"
)

type fakeTimers struct {
	scheduled []string
}

func (f *fakeTimers) Schedule(id string, d time.Duration) { f.scheduled = append(f.scheduled, id) }
func (f *fakeTimers) Forget(id string)                    {}

type world struct {
	store   *gamedb.Store
	cache   *cache.Cache
	actions *actions.Manager
	battles *battle.Resolver
	coord   *Coordinator
	timers  *fakeTimers
	cur     time.Time
}

func (w *world) advance(d time.Duration) { w.cur = w.cur.Add(d) }

func newWorld(t *testing.T) *world {
	t.Helper()
	s, err := gamedb.Open(filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	eng := formula.New(nil, nil)
	eng.SetRand(func() float64 { return 0 })

	cat := &catalogs.Catalogs{
		Mobs: catalogs.MobCatalog{ByID: map[string]catalogs.MobDef{
			"rat": {ID: "rat", Name: "Giant Rat", Level: 2, HP: 30, DamageMin: 5, DamageMax: 10, Gold: 10, XP: 20},
		}},
		Recipes: catalogs.RecipeCatalog{ByID: map[string]catalogs.RecipeDef{
			"iron_sword": {
				ID: "iron_sword", Name: "Iron Sword",
				Inputs:      []catalogs.ItemCount{{Item: "iron_ore", Count: 2}},
				Outputs:     []catalogs.ItemCount{{Item: "iron_sword", Count: 1}},
				TimeSeconds: 60, XP: 25,
			},
		}},
	}

	w := &world{
		store:  s,
		cache:  cache.New(),
		timers: &fakeTimers{},
		cur:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return w.cur }

	w.actions = actions.New(s, w.cache, eng, cat, tuning.Defaults(), nil)
	w.actions.SetClock(clock)
	w.actions.BindTimers(w.timers)

	w.battles = battle.New(s, w.cache, eng, cat, tuning.Defaults(), nil)
	w.battles.SetClock(clock)
	w.battles.SetRand(func() float64 { return 0.99 })
	w.battles.BindTimers(w.timers)

	w.coord = New(s, w.actions, w.battles, nil)
	w.coord.SetClock(clock)
	return w
}

func putPlayer(t *testing.T, s *gamedb.Store, p *model.Player) {
	t.Helper()
	if err := s.WithTx(func(tx *gamedb.Tx) error { return tx.PutPlayer(p) }); err != nil {
		t.Fatalf("put player: %v", err)
	}
}

func TestRestartCompletesOverdueCraftExactlyOnce(t *testing.T) {
	w := newWorld(t)
	putPlayer(t, w.store, &model.Player{
		ID: "u1", Name: "Crafter", Inventory: map[string]int{"iron_ore": 2},
	})

	a, err := w.actions.Start("u1", model.ActionCraft, "iron_sword")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Process "restarts" 70 seconds into a 60-second craft.
	w.advance(70 * time.Second)
	if err := w.coord.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := w.store.GetAction(a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != model.ActionDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}
	p, _ := w.store.GetPlayer("u1")
	if p.Inventory["iron_sword"] != 1 {
		t.Fatalf("expected exactly one iron_sword, got %d", p.Inventory["iron_sword"])
	}

	// A second full pass must not double-grant.
	if err := w.coord.Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	p, _ = w.store.GetPlayer("u1")
	if p.Inventory["iron_sword"] != 1 {
		t.Fatalf("double recovery granted twice: %d", p.Inventory["iron_sword"])
	}
}

func TestRecoveryRearmsInWindowAction(t *testing.T) {
	w := newWorld(t)
	putPlayer(t, w.store, &model.Player{
		ID: "u1", Name: "Crafter", Inventory: map[string]int{"iron_ore": 2},
	})

	a, err := w.actions.Start("u1", model.ActionCraft, "iron_sword")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Simulate a cold start: empty cache, no timers.
	w.cache.Delete(cache.CraftingKey("u1"))
	w.timers.scheduled = nil

	w.advance(30 * time.Second)
	if err := w.coord.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok := w.cache.Get(cache.CraftingKey("u1")); !ok {
		t.Fatalf("expected cache repopulated")
	}
	if ttl, _ := w.cache.TTL(cache.CraftingKey("u1")); ttl > 30*time.Second {
		t.Fatalf("expected remaining TTL, got %v", ttl)
	}
	found := false
	for _, id := range w.timers.scheduled {
		if id == a.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected timer re-armed for %s, got %v", a.ID, w.timers.scheduled)
	}
}

func TestRecoveryExpiresPendingChallenge(t *testing.T) {
	w := newWorld(t)
	putPlayer(t, w.store, &model.Player{ID: "u1", Name: "A", Gold: 100})
	putPlayer(t, w.store, &model.Player{ID: "u2", Name: "B", Gold: 100})

	b, err := w.battles.Challenge("u1", "u2", 30)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if p, _ := w.store.GetPlayer("u1"); p.Gold != 70 {
		t.Fatalf("expected stake escrowed, gold=%d", p.Gold)
	}

	w.advance(time.Duration(tuning.Defaults().ChallengeExpirySeconds+1) * time.Second)
	if err := w.coord.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := w.store.GetBattle(b.ID)
	if got.Status != model.BattleExpired || got.StakeState != model.StakeReleased {
		t.Fatalf("expected EXPIRED/RELEASED, got %s/%s", got.Status, got.StakeState)
	}
	if p, _ := w.store.GetPlayer("u1"); p.Gold != 100 {
		t.Fatalf("expected stake released, gold=%d", p.Gold)
	}

	// Idempotent across a second pass.
	if err := w.coord.Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if p, _ := w.store.GetPlayer("u1"); p.Gold != 100 {
		t.Fatalf("double release, gold=%d", p.Gold)
	}
}

func TestRecoveryForcesOverdueBattleLoss(t *testing.T) {
	w := newWorld(t)
	putPlayer(t, w.store, &model.Player{ID: "u1", Name: "A", Gold: 100, Stats: model.Stats{Level: 5}})

	b, err := w.battles.StartPvE("u1", "rat")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	w.advance(time.Duration(tuning.Defaults().BattleInactivitySeconds+1) * time.Second)
	if err := w.coord.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := w.store.GetBattle(b.ID)
	if got.Status != model.BattleLost {
		t.Fatalf("expected forced LOST, got %s", got.Status)
	}
	if p, _ := w.store.GetPlayer("u1"); p.Gold != 90 {
		t.Fatalf("expected forced-loss penalty, gold=%d", p.Gold)
	}
}

func TestSnapshotReconstructsLostPrimaryWrite(t *testing.T) {
	w := newWorld(t)
	putPlayer(t, w.store, &model.Player{ID: "u1", Name: "Crafter"})

	// Simulate a crash where the snapshot landed but the primary action
	// row did not: insert only the snapshot.
	a := &model.TimedAction{
		ID: "lost-1", Kind: model.ActionCraft, UserID: "u1", TargetID: "iron_sword",
		Status: model.ActionActive, StartedAt: w.cur, EndsAt: w.cur.Add(time.Minute),
		Payload: map[string]any{"outputs": map[string]any{"iron_sword": 1}, "xp": 25},
	}
	blob, err := snapshot.Encode(string(model.SnapshotAction), a.ID, a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sn := &model.StateSnapshot{
		ID: "sn-1", Kind: model.SnapshotAction, Owner: "u1", EntityID: a.ID,
		Payload: blob, ExpiresAt: w.cur.Add(time.Hour),
	}
	if err := w.store.WithTx(func(tx *gamedb.Tx) error { return tx.InsertSnapshot(sn) }); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	if err := w.coord.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := w.store.GetAction(a.ID)
	if err != nil {
		t.Fatalf("expected reconstructed action: %v", err)
	}
	if got.Status != model.ActionActive {
		t.Fatalf("expected reconstructed ACTIVE, got %s", got.Status)
	}

	// A second pass must not duplicate: the snapshot is consumed.
	if err := w.coord.Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	snaps, err := w.store.UnrestoredSnapshots(w.cur)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expected snapshot consumed, got %d", len(snaps))
	}

	// Once overdue, the reconstructed action completes and grants once.
	w.advance(2 * time.Minute)
	if err := w.coord.Run(); err != nil {
		t.Fatalf("third run: %v", err)
	}
	p, _ := w.store.GetPlayer("u1")
	if p.Inventory["iron_sword"] != 1 {
		t.Fatalf("expected one iron_sword, got %d", p.Inventory["iron_sword"])
	}
}
