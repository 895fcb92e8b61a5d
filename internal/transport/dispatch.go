// Package transport maps protocol operations onto the gameplay engines.
// Both the websocket gateway and the HTTP API funnel through Dispatch, so
// the two surfaces cannot drift apart.
package transport

import (
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/rpg/actions"
	"fablebot.gg/internal/rpg/battle"
	"fablebot.gg/internal/rpg/model"
	"fablebot.gg/internal/rpg/players"
)

type Core struct {
	Players *players.Service
	Actions *actions.Manager
	Battles *battle.Resolver
}

// Dispatch executes one gameplay operation for userID and returns the event
// payload to push back. Errors carry protocol codes.
func (c *Core) Dispatch(userID string, act protocol.ActMsg) (protocol.Event, error) {
	switch act.Op {
	case protocol.OpRegister:
		p, err := c.Players.Register(userID, act.Name)
		if err != nil {
			return nil, err
		}
		return protocol.Event{"type": "player", "player": p}, nil
	case protocol.OpPlayerState:
		p, err := c.Players.Get(userID)
		if err != nil {
			return nil, err
		}
		return protocol.Event{"type": "player", "player": p}, nil
	case protocol.OpStartPvE:
		b, err := c.Battles.StartPvE(userID, act.MobID)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpChallenge:
		b, err := c.Battles.Challenge(userID, act.OpponentID, act.Stake)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpAccept:
		b, err := c.Battles.Accept(userID, act.BattleID)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpDecline:
		b, err := c.Battles.Decline(userID, act.BattleID)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpBattleAction:
		b, err := c.Battles.Act(userID, act.BattleID, model.BattleAction(act.Action), act.SkillID, act.ItemID)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpBattleState:
		b, err := c.Battles.Get(userID, act.BattleID)
		if err != nil {
			return nil, err
		}
		return battleEvent(b), nil
	case protocol.OpStartAction:
		a, err := c.Actions.Start(userID, model.ActionKind(act.Kind), act.TargetID)
		if err != nil {
			return nil, err
		}
		return protocol.Event{"type": "action_state", "action": a}, nil
	case protocol.OpCancelAction:
		a, err := c.Actions.Cancel(userID, act.ActionID)
		if err != nil {
			return nil, err
		}
		return protocol.Event{"type": "action_state", "action": a}, nil
	case protocol.OpQueryAction:
		st, err := c.Actions.Query(userID)
		if err != nil {
			return nil, err
		}
		return protocol.Event{
			"type": "action_state", "action": st.Action,
			"progress": st.Progress, "remaining_seconds": st.RemainingSeconds,
		}, nil
	}
	return nil, protocol.Errf(protocol.ErrProtoBadRequest, "unknown op %q", act.Op)
}

func battleEvent(b *model.BattleSession) protocol.Event {
	return protocol.Event{"type": "battle_state", "battle": b}
}
