package cache

import (
	"testing"
	"time"
)

func TestSetGetExpiry(t *testing.T) {
	c := New()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set(BattleKey("b1"), "state", 30*time.Second)
	if v, ok := c.Get(BattleKey("b1")); !ok || v != "state" {
		t.Fatalf("expected hit, got %v ok=%v", v, ok)
	}
	if ttl, ok := c.TTL(BattleKey("b1")); !ok || ttl != 30*time.Second {
		t.Fatalf("expected ttl 30s, got %v ok=%v", ttl, ok)
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.Get(BattleKey("b1")); ok {
		t.Fatalf("expected expiry")
	}
}

func TestMutationReArmsTTL(t *testing.T) {
	c := New()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	c.Set(CraftingKey("u1"), 1, time.Minute)
	now = now.Add(50 * time.Second)
	c.Set(CraftingKey("u1"), 2, time.Minute) // re-arm on mutation
	now = now.Add(50 * time.Second)
	if v, ok := c.Get(CraftingKey("u1")); !ok || v != 2 {
		t.Fatalf("expected re-armed entry, got %v ok=%v", v, ok)
	}
}

func TestExplicitDelete(t *testing.T) {
	c := New()
	c.Set(TravelKey("u1"), "x", time.Hour)
	c.Delete(TravelKey("u1"))
	if _, ok := c.Get(TravelKey("u1")); ok {
		t.Fatalf("expected deleted")
	}
}

func TestNonPositiveTTLDeletes(t *testing.T) {
	c := New()
	c.Set(AuctionKey("a1"), "x", time.Hour)
	c.Set(AuctionKey("a1"), "x", 0)
	if _, ok := c.Get(AuctionKey("a1")); ok {
		t.Fatalf("expected zero ttl to delete")
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace(GatherKey("u9")); got != "gather" {
		t.Fatalf("expected gather, got %q", got)
	}
}
