package actions

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/tuning"
)

type fakeTimers struct {
	mu        sync.Mutex
	scheduled []string
	forgotten []string
}

func (f *fakeTimers) Schedule(id string, d time.Duration) {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, id)
	f.mu.Unlock()
}

func (f *fakeTimers) Forget(id string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Locations: catalogs.LocationCatalog{ByID: map[string]catalogs.LocationDef{
			"town":   {ID: "town", Name: "Town", Distance: map[string]float64{"forest": 2}},
			"forest": {ID: "forest", Name: "Forest"},
		}},
		Resources: catalogs.ResourceCatalog{ByID: map[string]catalogs.ResourceDef{
			"iron_vein": {ID: "iron_vein", Name: "Iron Vein", Item: "iron_ore", LocationID: "forest", XP: 10},
		}},
		Recipes: catalogs.RecipeCatalog{ByID: map[string]catalogs.RecipeDef{
			"iron_sword": {
				ID: "iron_sword", Name: "Iron Sword",
				Inputs:      []catalogs.ItemCount{{Item: "iron_ore", Count: 2}},
				Outputs:     []catalogs.ItemCount{{Item: "iron_sword", Count: 1}},
				TimeSeconds: 60, CostGold: 10, XP: 25,
			},
		}},
	}
}

func newTestManager(t *testing.T) (*Manager, *gamedb.Store, *cache.Cache, *fakeTimers) {
	t.Helper()
	s, err := gamedb.Open(filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	eng := formula.New(nil, nil)
	eng.SetRand(func() float64 { return 0 })

	c := cache.New()
	m := New(s, c, eng, testCatalogs(), tuning.Defaults(), nil)
	ft := &fakeTimers{}
	m.BindTimers(ft)
	return m, s, c, ft
}

func putPlayer(t *testing.T, s *gamedb.Store, p *model.Player) {
	t.Helper()
	if err := s.WithTx(func(tx *gamedb.Tx) error { return tx.PutPlayer(p) }); err != nil {
		t.Fatalf("put player: %v", err)
	}
}

func crafter(gold int64, ore int) *model.Player {
	return &model.Player{
		ID: "u1", Name: "Crafter", Gold: gold,
		Location:  "town",
		Inventory: map[string]int{"iron_ore": ore},
		Stats:     model.Stats{Level: 5, Agility: 10},
	}
}

func TestCraftStartDebitsUpfront(t *testing.T) {
	m, s, c, ft := newTestManager(t)
	putPlayer(t, s, crafter(100, 2))

	a, err := m.Start("u1", model.ActionCraft, "iron_sword")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := a.EndsAt.Sub(a.StartedAt); got != 60*time.Second {
		t.Fatalf("expected 60s duration, got %v", got)
	}

	p, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Gold != 90 {
		t.Fatalf("expected gold debited to 90, got %d", p.Gold)
	}
	if p.Inventory["iron_ore"] != 0 {
		t.Fatalf("expected inputs consumed, got %v", p.Inventory)
	}
	if _, ok := c.Get(cache.CraftingKey("u1")); !ok {
		t.Fatalf("expected crafting cache mirror")
	}
	if len(ft.scheduled) != 1 || ft.scheduled[0] != a.ID {
		t.Fatalf("expected timer armed for %s, got %v", a.ID, ft.scheduled)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	m, s, c, _ := newTestManager(t)
	putPlayer(t, s, crafter(100, 2))

	a, err := m.Start("u1", model.ActionCraft, "iron_sword")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Timer path and recovery path both land here; the item must be
	// granted exactly once.
	if _, err := m.Complete(a.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := m.Complete(a.ID); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	p, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Inventory["iron_sword"] != 1 {
		t.Fatalf("expected exactly one iron_sword, got %d", p.Inventory["iron_sword"])
	}
	if p.Professions["crafting"].XP != 25 {
		t.Fatalf("expected 25 crafting xp, got %d", p.Professions["crafting"].XP)
	}
	if _, ok := c.Get(cache.CraftingKey("u1")); ok {
		t.Fatalf("expected cache key cleared on completion")
	}
	got, err := s.GetAction(a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != model.ActionDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}
}

func TestSecondStartRejected(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	putPlayer(t, s, crafter(100, 4))

	if _, err := m.Start("u1", model.ActionCraft, "iron_sword"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := m.Start("u1", model.ActionTravel, "forest")
	if !protocol.IsCode(err, protocol.ErrConflict) {
		t.Fatalf("expected E_CONFLICT, got %v", err)
	}
}

func TestCraftMissingIngredientsIsAtomic(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	putPlayer(t, s, crafter(100, 1))

	_, err := m.Start("u1", model.ActionCraft, "iron_sword")
	if !protocol.IsCode(err, protocol.ErrNoResource) {
		t.Fatalf("expected E_NO_RESOURCE, got %v", err)
	}
	p, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Gold != 100 || p.Inventory["iron_ore"] != 1 {
		t.Fatalf("expected no partial movement, got gold=%d inv=%v", p.Gold, p.Inventory)
	}
}

func TestTravelArrival(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	putPlayer(t, s, crafter(0, 0))

	a, err := m.Start("u1", model.ActionTravel, "forest")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Complete(a.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	p, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Location != "forest" {
		t.Fatalf("expected arrival at forest, got %s", p.Location)
	}
}

func TestGatherRequiresLocation(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	putPlayer(t, s, crafter(0, 0)) // in town; iron_vein is in the forest

	_, err := m.Start("u1", model.ActionGather, "iron_vein")
	if !protocol.IsCode(err, protocol.ErrBadRequest) {
		t.Fatalf("expected E_BAD_REQUEST, got %v", err)
	}
}

func TestGatherGrantsPinnedYield(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	p := crafter(0, 0)
	p.Location = "forest"
	putPlayer(t, s, p)

	a, err := m.Start("u1", model.ActionGather, "iron_vein")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Complete(a.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	// gather_yield with profession level 0 and a pinned zero draw is 1.
	if got.Inventory["iron_ore"] != 1 {
		t.Fatalf("expected 1 iron_ore, got %d", got.Inventory["iron_ore"])
	}
	if got.Professions["gathering"].XP != 10 {
		t.Fatalf("expected 10 gathering xp, got %d", got.Professions["gathering"].XP)
	}
}

func TestCancelSupersedesTimer(t *testing.T) {
	m, s, _, ft := newTestManager(t)
	putPlayer(t, s, crafter(100, 2))

	a, err := m.Start("u1", model.ActionCraft, "iron_sword")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Cancel("u1", a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(ft.forgotten) != 1 {
		t.Fatalf("expected timer forgotten, got %v", ft.forgotten)
	}

	// The stale timer firing later must not grant anything.
	if _, err := m.Complete(a.ID); err != nil {
		t.Fatalf("stale complete: %v", err)
	}
	p, err := s.GetPlayer("u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if p.Inventory["iron_sword"] != 0 {
		t.Fatalf("expected no item from cancelled craft, got %v", p.Inventory)
	}
	got, err := s.GetAction(a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != model.ActionCancelled {
		t.Fatalf("expected CANCELLED to stick, got %s", got.Status)
	}

	// Cancelling twice reports the terminal state.
	if _, err := m.Cancel("u1", a.ID); !protocol.IsCode(err, protocol.ErrAlreadyFinished) {
		t.Fatalf("expected E_ALREADY_FINISHED, got %v", err)
	}
}

func TestQueryProgressMidway(t *testing.T) {
	m, s, _, _ := newTestManager(t)
	putPlayer(t, s, crafter(100, 2))

	cur := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return cur })

	if _, err := m.Start("u1", model.ActionCraft, "iron_sword"); err != nil {
		t.Fatalf("start: %v", err)
	}

	cur = cur.Add(30 * time.Second)
	st, err := m.Query("u1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if st.RemainingSeconds != 30 {
		t.Fatalf("expected 30s remaining, got %v", st.RemainingSeconds)
	}
	if st.Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", st.Progress)
	}
}
