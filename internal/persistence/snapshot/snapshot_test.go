package snapshot

import (
	"testing"
	"time"

	"fablebot.gg/internal/rpg/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	act := model.TimedAction{
		ID:        "a1",
		Kind:      model.ActionCraft,
		UserID:    "u1",
		TargetID:  "iron_sword",
		Status:    model.ActionActive,
		StartedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		EndsAt:    time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC),
	}

	b, err := Encode(string(model.SnapshotAction), act.ID, act)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got model.TimedAction
	h, err := Decode(b, &got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Kind != "action" || h.EntityID != "a1" {
		t.Fatalf("unexpected header %+v", h)
	}
	if got.ID != act.ID || got.UserID != act.UserID || !got.EndsAt.Equal(act.EndsAt) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var out model.TimedAction
	if _, err := Decode([]byte("not a snapshot"), &out); err == nil {
		t.Fatalf("expected error")
	}
}
