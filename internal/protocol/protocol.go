package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAct     = "ACT"
	TypeEvent   = "EVENT"
	TypeError   = "ERROR"
)

// Event is a loose structured payload pushed to clients and appended to the
// audit trail. Keys are snake_case; "type" is always present.
type Event map[string]any

type BaseMsg struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMsg, error) {
	var m BaseMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode base: %w", err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("missing type")
	}
	return m, nil
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	ServerTimeUnix  int64  `json:"server_time_unix"`
}

// ActMsg is a gameplay command submitted over the websocket. Op selects the
// operation; the remaining fields are op-specific.
type ActMsg struct {
	Type string `json:"type"`
	Op   string `json:"op"`
	Seq  int64  `json:"seq,omitempty"`

	BattleID   string `json:"battle_id,omitempty"`
	ActionID   string `json:"action_id,omitempty"`
	Action     string `json:"action,omitempty"`
	SkillID    string `json:"skill_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	MobID      string `json:"mob_id,omitempty"`
	OpponentID string `json:"opponent_id,omitempty"`
	Stake      int64  `json:"stake,omitempty"`

	Kind     string `json:"kind,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	Name string `json:"name,omitempty"`
}

const (
	OpRegister     = "REGISTER"
	OpPlayerState  = "PLAYER_STATE"
	OpStartPvE     = "START_PVE"
	OpChallenge    = "CHALLENGE"
	OpAccept       = "ACCEPT"
	OpDecline      = "DECLINE"
	OpBattleAction = "BATTLE_ACTION"
	OpBattleState  = "BATTLE_STATE"
	OpStartAction  = "START_ACTION"
	OpCancelAction = "CANCEL_ACTION"
	OpQueryAction  = "QUERY_ACTION"
)

type EventMsg struct {
	Type  string `json:"type"`
	Seq   int64  `json:"seq,omitempty"`
	Event Event  `json:"event"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
