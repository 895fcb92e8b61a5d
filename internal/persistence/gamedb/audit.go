package gamedb

import (
	"encoding/json"
	"time"

	"fablebot.gg/internal/protocol"
)

// Audit enqueues a gameplay audit event. Non-blocking: events are dropped
// if the writer falls behind; the entity tables remain the source of truth.
func (s *Store) Audit(ev protocol.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *Store) auditLoop() {
	insert, _ := s.db.Prepare(`INSERT INTO audits(at, actor, event_type, raw_json) VALUES(?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	for ev := range s.ch {
		at := time.Now().UTC().Format(time.RFC3339Nano)
		actor, _ := ev["actor"].(string)
		evType, _ := ev["type"].(string)
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if insert != nil {
			_, _ = insert.Exec(at, actor, evType, string(raw))
		}
		if s.auditFile != nil {
			_ = s.auditFile.Write(ev)
		}
	}
}
