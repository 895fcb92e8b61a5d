package gamedb

import (
	"encoding/json"
	"time"

	"fablebot.gg/internal/rpg/model"
)

// Read-only helpers outside a write transaction. Balance-affecting paths
// must re-read inside WithTx; these feed recovery scans, the sweep, and the
// query endpoints.

func (s *Store) GetPlayer(id string) (*model.Player, error) {
	var p *model.Player
	err := s.WithTx(func(tx *Tx) error {
		var err error
		p, err = tx.GetPlayer(id)
		return err
	})
	return p, err
}

func (s *Store) GetAction(id string) (*model.TimedAction, error) {
	var a *model.TimedAction
	err := s.WithTx(func(tx *Tx) error {
		var err error
		a, err = tx.GetAction(id)
		return err
	})
	return a, err
}

func (s *Store) ActiveActionByUser(userID string) (*model.TimedAction, error) {
	var a *model.TimedAction
	err := s.WithTx(func(tx *Tx) error {
		var err error
		a, err = tx.ActiveActionByUser(userID)
		return err
	})
	return a, err
}

func (s *Store) GetBattle(id string) (*model.BattleSession, error) {
	var b *model.BattleSession
	err := s.WithTx(func(tx *Tx) error {
		var err error
		b, err = tx.GetBattle(id)
		return err
	})
	return b, err
}

func (s *Store) listActions(query string, args ...any) ([]model.TimedAction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TimedAction
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a model.TimedAction
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) listBattles(query string, args ...any) ([]model.BattleSession, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BattleSession
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var b model.BattleSession
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListActiveActions returns every non-terminal timed action; recovery only.
func (s *Store) ListActiveActions() ([]model.TimedAction, error) {
	return s.listActions(
		`SELECT raw_json FROM actions WHERE status = ? ORDER BY ends_at`,
		string(model.ActionActive),
	)
}

// ListActiveBattles returns every non-terminal battle session (PENDING
// challenges included); recovery only.
func (s *Store) ListActiveBattles() ([]model.BattleSession, error) {
	return s.listBattles(
		`SELECT raw_json FROM battles WHERE status IN (?, ?) ORDER BY expires_at`,
		string(model.BattlePending), string(model.BattleActive),
	)
}

// ListHeldTerminalBattles finds terminal battles whose stake escrow was
// never settled or released — the crash-between-debit-and-credit case.
func (s *Store) ListHeldTerminalBattles() ([]model.BattleSession, error) {
	return s.listBattles(
		`SELECT raw_json FROM battles
		 WHERE status NOT IN (?, ?) AND stake_state = ?`,
		string(model.BattlePending), string(model.BattleActive), string(model.StakeHeld),
	)
}

// OverdueActionIDs feeds the scheduler sweep.
func (s *Store) OverdueActionIDs(now time.Time) ([]string, error) {
	return s.listIDs(
		`SELECT id FROM actions WHERE status = ? AND ends_at <= ?`,
		string(model.ActionActive), now.Unix(),
	)
}

// OverdueBattleIDs feeds the scheduler sweep (expired challenges and
// inactivity-bound battles alike).
func (s *Store) OverdueBattleIDs(now time.Time) ([]string, error) {
	return s.listIDs(
		`SELECT id FROM battles WHERE status IN (?, ?) AND expires_at <= ?`,
		string(model.BattlePending), string(model.BattleActive), now.Unix(),
	)
}

func (s *Store) listIDs(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnrestoredSnapshots returns unconsumed snapshots still within their TTL.
func (s *Store) UnrestoredSnapshots(now time.Time) ([]model.StateSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, owner, entity_id, payload, expires_at FROM snapshots
		 WHERE restored = 0 AND expires_at > ? ORDER BY created_at`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StateSnapshot
	for rows.Next() {
		var sn model.StateSnapshot
		var kind string
		var exp int64
		if err := rows.Scan(&sn.ID, &kind, &sn.Owner, &sn.EntityID, &sn.Payload, &exp); err != nil {
			return nil, err
		}
		sn.Kind = model.SnapshotKind(kind)
		sn.ExpiresAt = time.Unix(exp, 0).UTC()
		out = append(out, sn)
	}
	return out, rows.Err()
}

// RecentMatches returns finished-match history, newest first.
func (s *Store) RecentMatches(limit int) ([]model.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT raw_json FROM matches ORDER BY ended_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MatchRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m model.MatchRecord
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- formulas --------------------------------------------------------------

// Expression implements formula.Source over the admin-edited formula rows.
func (s *Store) Expression(name string) (string, bool) {
	var expr string
	if err := s.db.QueryRow(`SELECT expr FROM formulas WHERE name = ?`, name).Scan(&expr); err != nil {
		return "", false
	}
	return expr, true
}

// SeedFormulas inserts catalog seed expressions for names that have no
// stored row yet; existing rows are admin-owned and left untouched.
func (s *Store) SeedFormulas(seed map[string]string) error {
	for name, expr := range seed {
		if name == "" || expr == "" {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT INTO formulas(name, expr, updated_at) VALUES(?,?,?)
			 ON CONFLICT(name) DO NOTHING`,
			name, expr, nowRFC3339(),
		); err != nil {
			return err
		}
	}
	return nil
}
