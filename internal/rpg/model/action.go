package model

import "time"

type ActionKind string

const (
	ActionTravel ActionKind = "travel"
	ActionGather ActionKind = "gather"
	ActionCraft  ActionKind = "craft"
)

func ValidActionKind(k ActionKind) bool {
	switch k {
	case ActionTravel, ActionGather, ActionCraft:
		return true
	}
	return false
}

type ActionStatus string

const (
	ActionActive    ActionStatus = "ACTIVE"
	ActionDone      ActionStatus = "DONE"
	ActionCancelled ActionStatus = "CANCELLED"
)

func (s ActionStatus) Terminal() bool { return s != ActionActive }

// TimedAction is a duration-based background job: travel to a location,
// gather a resource, or craft a recipe. Created by the lifecycle manager;
// mutated only by its completion handler; archived once terminal.
type TimedAction struct {
	ID       string       `json:"id"`
	Kind     ActionKind   `json:"kind"`
	UserID   string       `json:"user_id"`
	TargetID string       `json:"target_id"`
	Status   ActionStatus `json:"status"`

	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// Kind-specific payload (e.g. yield counts pinned at start).
	Payload map[string]any `json:"payload,omitempty"`
}

// Progress reports completion in [0,1].
func (a *TimedAction) Progress(now time.Time) float64 {
	total := a.EndsAt.Sub(a.StartedAt)
	if total <= 0 {
		return 0
	}
	p := float64(now.Sub(a.StartedAt)) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (a *TimedAction) Remaining(now time.Time) time.Duration {
	d := a.EndsAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (a *TimedAction) Overdue(now time.Time) bool {
	return !now.Before(a.EndsAt)
}
