package gamedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fablebot.gg/internal/rpg/model"
)

// WithTx runs fn inside a single write transaction. Any error rolls the
// whole transaction back, so a validation failure never leaves a partial
// resource movement behind.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	raw, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	t := &Tx{tx: raw}
	if err := fn(t); err != nil {
		_ = raw.Rollback()
		return err
	}
	return raw.Commit()
}

type Tx struct {
	tx *sql.Tx
}

// --- players ---------------------------------------------------------------

func (t *Tx) GetPlayer(id string) (*model.Player, error) {
	var raw string
	err := t.tx.QueryRow(`SELECT raw_json FROM players WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p model.Player
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("player %s: %w", id, err)
	}
	return &p, nil
}

func (t *Tx) PutPlayer(p *model.Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT INTO players(id, name, gold, raw_json, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, gold=excluded.gold,
		 raw_json=excluded.raw_json, updated_at=excluded.updated_at`,
		p.ID, p.Name, p.Gold, string(raw), nowRFC3339(),
	)
	return err
}

// --- timed actions ---------------------------------------------------------

// InsertAction creates the action, enforcing at most one non-terminal
// action per user inside the same transaction.
func (t *Tx) InsertAction(a *model.TimedAction) error {
	var n int
	err := t.tx.QueryRow(
		`SELECT COUNT(1) FROM actions WHERE user_id = ? AND status = ?`,
		a.UserID, string(model.ActionActive),
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("user %s already has an active action: %w", a.UserID, ErrConflict)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	_, err = t.tx.Exec(
		`INSERT INTO actions(id, user_id, kind, status, ends_at, raw_json, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, string(a.Kind), string(a.Status), a.EndsAt.Unix(), string(raw), now, now,
	)
	return err
}

func (t *Tx) GetAction(id string) (*model.TimedAction, error) {
	var raw string
	err := t.tx.QueryRow(`SELECT raw_json FROM actions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var a model.TimedAction
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) ActiveActionByUser(userID string) (*model.TimedAction, error) {
	var raw string
	err := t.tx.QueryRow(
		`SELECT raw_json FROM actions WHERE user_id = ? AND status = ?`,
		userID, string(model.ActionActive),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a model.TimedAction
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateActionGuarded persists a only if the stored row is still in the
// expected status. A terminal row stays write-once: the update is rejected
// with ErrConflict instead of being overwritten.
func (t *Tx) UpdateActionGuarded(a *model.TimedAction, expect model.ActionStatus) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(
		`UPDATE actions SET status = ?, ends_at = ?, raw_json = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(a.Status), a.EndsAt.Unix(), string(raw), nowRFC3339(),
		a.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("action %s not in status %s: %w", a.ID, expect, ErrConflict)
	}
	return nil
}

// --- battles ---------------------------------------------------------------

// InsertBattle creates the session, enforcing at most one non-terminal
// battle per participating player per kind.
func (t *Tx) InsertBattle(b *model.BattleSession) error {
	for _, pid := range []string{b.Challenger.PlayerID, b.Opponent.PlayerID} {
		if pid == "" {
			continue
		}
		var n int
		err := t.tx.QueryRow(
			`SELECT COUNT(1) FROM battles
			 WHERE kind = ? AND status IN (?, ?) AND (challenger_id = ? OR opponent_id = ?)`,
			string(b.Kind), string(model.BattlePending), string(model.BattleActive), pid, pid,
		).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("player %s already in a %s battle: %w", pid, b.Kind, ErrConflict)
		}
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	_, err = t.tx.Exec(
		`INSERT INTO battles(id, kind, status, challenger_id, opponent_id, stake, stake_state, expires_at, raw_json, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, string(b.Kind), string(b.Status),
		b.Challenger.PlayerID, b.Opponent.PlayerID,
		b.Stake, string(b.StakeState), b.ExpiresAt.Unix(), string(raw), now, now,
	)
	return err
}

func (t *Tx) GetBattle(id string) (*model.BattleSession, error) {
	var raw string
	err := t.tx.QueryRow(`SELECT raw_json FROM battles WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("battle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var b model.BattleSession
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBattleGuarded persists b only if the stored row is still in the
// expected status; terminal rows are write-once.
func (t *Tx) UpdateBattleGuarded(b *model.BattleSession, expect model.BattleStatus) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	res, err := t.tx.Exec(
		`UPDATE battles SET status = ?, stake_state = ?, expires_at = ?, raw_json = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(b.Status), string(b.StakeState), b.ExpiresAt.Unix(), string(raw), nowRFC3339(),
		b.ID, string(expect),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("battle %s not in status %s: %w", b.ID, expect, ErrConflict)
	}
	return nil
}

// UpdateBattleStake rewrites only the stake ledger of a terminal battle;
// used by recovery to finish an interrupted settlement.
func (t *Tx) UpdateBattleStake(b *model.BattleSession) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`UPDATE battles SET stake_state = ?, raw_json = ?, updated_at = ? WHERE id = ?`,
		string(b.StakeState), string(raw), nowRFC3339(), b.ID,
	)
	return err
}

func (t *Tx) InsertMatch(m *model.MatchRecord) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(
		`INSERT OR REPLACE INTO matches(battle_id, kind, status, challenger_id, opponent_ref, winner_id, stake, pot, turns, started_at, ended_at, raw_json)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.BattleID, string(m.Kind), string(m.Status), m.ChallengerID, m.OpponentRef,
		m.WinnerID, m.Stake, m.Pot, m.Turns,
		m.StartedAt.UTC().Format(time.RFC3339Nano),
		m.EndedAt.UTC().Format(time.RFC3339Nano),
		string(raw),
	)
	return err
}

// --- snapshots -------------------------------------------------------------

func (t *Tx) InsertSnapshot(sn *model.StateSnapshot) error {
	_, err := t.tx.Exec(
		`INSERT INTO snapshots(id, kind, owner, entity_id, payload, expires_at, restored, created_at)
		 VALUES(?,?,?,?,?,?,0,?)`,
		sn.ID, string(sn.Kind), sn.Owner, sn.EntityID, sn.Payload, sn.ExpiresAt.Unix(), nowRFC3339(),
	)
	return err
}

// MarkSnapshotRestored flips the one-way restored flag; a snapshot already
// consumed yields ErrConflict.
func (t *Tx) MarkSnapshotRestored(id string) error {
	res, err := t.tx.Exec(`UPDATE snapshots SET restored = 1 WHERE id = ? AND restored = 0`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s already restored: %w", id, ErrConflict)
	}
	return nil
}

// BattleExists reports whether a primary battle row exists, without
// decoding it; used by snapshot restore to avoid duplicates.
func (t *Tx) BattleExists(id string) (bool, error) {
	var n int
	if err := t.tx.QueryRow(`SELECT COUNT(1) FROM battles WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tx) ActionExists(id string) (bool, error) {
	var n int
	if err := t.tx.QueryRow(`SELECT COUNT(1) FROM actions WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
