package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/rpg/actions"
	"fablebot.gg/internal/rpg/battle"
	"fablebot.gg/internal/rpg/cache"
	"fablebot.gg/internal/rpg/catalogs"
	"fablebot.gg/internal/rpg/formula"
	"fablebot.gg/internal/rpg/players"
	"fablebot.gg/internal/rpg/tuning"
	"fablebot.gg/internal/transport"
)

type noopTimers struct{}

func (noopTimers) Schedule(string, time.Duration) {}
func (noopTimers) Forget(string)                  {}

func newTestAPI(t *testing.T) (*httptest.Server, *gamedb.Store) {
	t.Helper()
	store, err := gamedb.Open(filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cat := &catalogs.Catalogs{
		Locations: catalogs.LocationCatalog{ByID: map[string]catalogs.LocationDef{
			"town": {ID: "town", Name: "Town"},
		}},
		Mobs: catalogs.MobCatalog{ByID: map[string]catalogs.MobDef{
			"rat": {ID: "rat", Name: "Rat", Level: 1, HP: 30, DamageMin: 2, DamageMax: 4},
		}},
	}
	tune := tuning.Defaults()
	tune.StartLocation = "town"

	eng := formula.New(nil, nil)
	eng.SetRand(func() float64 { return 0 })
	mirror := cache.New()

	actionMgr := actions.New(store, mirror, eng, cat, tune, nil)
	actionMgr.BindTimers(noopTimers{})
	battleRes := battle.New(store, mirror, eng, cat, tune, nil)
	battleRes.BindTimers(noopTimers{})

	core := &transport.Core{
		Players: players.New(store, cat, tune, nil),
		Actions: actionMgr,
		Battles: battleRes,
	}

	mux := http.NewServeMux()
	NewServer(core, store, nil).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, out
}

func TestRegisterAndFetchPlayer(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, out := postJSON(t, ts.URL+"/v1/players", map[string]any{"user_id": "u1", "name": "Ada"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status %d: %v", resp.StatusCode, out)
	}
	player, ok := out["player"].(map[string]any)
	if !ok {
		t.Fatalf("expected player payload, got %v", out)
	}
	if player["location"] != "town" {
		t.Fatalf("expected start location town, got %v", player["location"])
	}

	resp, out = getJSON(t, ts.URL+"/v1/players/u1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status %d: %v", resp.StatusCode, out)
	}

	resp, _ = getJSON(t, ts.URL+"/v1/players/nobody")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown player, got %d", resp.StatusCode)
	}
}

func TestDuplicateRegisterMapsToConflict(t *testing.T) {
	ts, _ := newTestAPI(t)

	if resp, out := postJSON(t, ts.URL+"/v1/players", map[string]any{"user_id": "u1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("register status %d: %v", resp.StatusCode, out)
	}
	resp, out := postJSON(t, ts.URL+"/v1/players", map[string]any{"user_id": "u1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", resp.StatusCode, out)
	}
}

func TestStartPvEBattleOverHTTP(t *testing.T) {
	ts, _ := newTestAPI(t)
	postJSON(t, ts.URL+"/v1/players", map[string]any{"user_id": "u1"})

	resp, out := postJSON(t, ts.URL+"/v1/battles/pve", map[string]any{"user_id": "u1", "mob_id": "rat"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pve status %d: %v", resp.StatusCode, out)
	}
	b, ok := out["battle"].(map[string]any)
	if !ok {
		t.Fatalf("expected battle payload, got %v", out)
	}
	if b["status"] != "ACTIVE" {
		t.Fatalf("expected ACTIVE battle, got %v", b["status"])
	}

	// Unknown mob maps to 404.
	resp, _ = postJSON(t, ts.URL+"/v1/battles/pve", map[string]any{"user_id": "u1", "mob_id": "dragon"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown mob, got %d", resp.StatusCode)
	}
}

func TestMissingUserIDRejected(t *testing.T) {
	ts, _ := newTestAPI(t)
	resp, _ := postJSON(t, ts.URL+"/v1/battles/pve", map[string]any{"mob_id": "rat"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without user_id, got %d", resp.StatusCode)
	}
}
