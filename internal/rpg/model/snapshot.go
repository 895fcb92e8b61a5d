package model

import "time"

type SnapshotKind string

const (
	SnapshotAction SnapshotKind = "action"
	SnapshotBattle SnapshotKind = "battle"
)

// StateSnapshot is a durable record sufficient to reconstruct an in-flight
// entity if the primary write was lost. Written alongside every creation;
// consumed at most once (Restored is a one-way flag).
type StateSnapshot struct {
	ID       string       `json:"id"`
	Kind     SnapshotKind `json:"kind"`
	Owner    string       `json:"owner"`
	EntityID string       `json:"entity_id"`

	Payload []byte `json:"-"`

	ExpiresAt time.Time `json:"expires_at"`
	Restored  bool      `json:"restored"`
	CreatedAt time.Time `json:"created_at"`
}
