// Package httpapi is the JSON request/response surface over the same
// operations the websocket gateway exposes, plus read-only queries for
// players and match history. Chat bots that cannot hold a socket poll here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"fablebot.gg/internal/persistence/gamedb"
	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/transport"
)

type Server struct {
	core  *transport.Core
	store *gamedb.Store
	log   *log.Logger
}

func NewServer(core *transport.Core, store *gamedb.Store, logger *log.Logger) *Server {
	return &Server{core: core, store: store, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /v1/battles/pve", s.act(func(req actRequest) protocol.ActMsg {
		return protocol.ActMsg{Op: protocol.OpStartPvE, MobID: req.MobID}
	}))
	mux.HandleFunc("POST /v1/battles/challenge", s.act(func(req actRequest) protocol.ActMsg {
		return protocol.ActMsg{Op: protocol.OpChallenge, OpponentID: req.OpponentID, Stake: req.Stake}
	}))
	mux.HandleFunc("POST /v1/battles/{id}/accept", s.actWithID(protocol.OpAccept))
	mux.HandleFunc("POST /v1/battles/{id}/decline", s.actWithID(protocol.OpDecline))
	mux.HandleFunc("POST /v1/battles/{id}/action", s.battleAction)
	mux.HandleFunc("GET /v1/battles/{id}", s.battleState)

	mux.HandleFunc("POST /v1/actions", s.act(func(req actRequest) protocol.ActMsg {
		return protocol.ActMsg{Op: protocol.OpStartAction, Kind: req.Kind, TargetID: req.TargetID}
	}))
	mux.HandleFunc("POST /v1/actions/{id}/cancel", s.cancelAction)
	mux.HandleFunc("GET /v1/actions", s.queryAction)

	mux.HandleFunc("POST /v1/players", s.act(func(req actRequest) protocol.ActMsg {
		return protocol.ActMsg{Op: protocol.OpRegister, Name: req.Name}
	}))
	mux.HandleFunc("GET /v1/players/{id}", s.getPlayer)
	mux.HandleFunc("GET /v1/matches", s.recentMatches)
}

type actRequest struct {
	UserID     string `json:"user_id"`
	MobID      string `json:"mob_id,omitempty"`
	OpponentID string `json:"opponent_id,omitempty"`
	Stake      int64  `json:"stake,omitempty"`
	Action     string `json:"action,omitempty"`
	SkillID    string `json:"skill_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

func (s *Server) act(build func(actRequest) protocol.ActMsg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAct(w, r)
		if !ok {
			return
		}
		s.dispatch(w, req.UserID, build(req))
	}
}

func (s *Server) actWithID(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAct(w, r)
		if !ok {
			return
		}
		s.dispatch(w, req.UserID, protocol.ActMsg{Op: op, BattleID: r.PathValue("id")})
	}
}

func (s *Server) battleAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAct(w, r)
	if !ok {
		return
	}
	s.dispatch(w, req.UserID, protocol.ActMsg{
		Op: protocol.OpBattleAction, BattleID: r.PathValue("id"),
		Action: req.Action, SkillID: req.SkillID, ItemID: req.ItemID,
	})
}

func (s *Server) battleState(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r.URL.Query().Get("user_id"), protocol.ActMsg{
		Op: protocol.OpBattleState, BattleID: r.PathValue("id"),
	})
}

func (s *Server) cancelAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAct(w, r)
	if !ok {
		return
	}
	s.dispatch(w, req.UserID, protocol.ActMsg{
		Op: protocol.OpCancelAction, ActionID: r.PathValue("id"),
	})
}

func (s *Server) queryAction(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r.URL.Query().Get("user_id"), protocol.ActMsg{Op: protocol.OpQueryAction})
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPlayer(r.PathValue("id"))
	if errors.Is(err, gamedb.ErrNotFound) {
		writeError(w, protocol.Errf(protocol.ErrNotFound, "unknown player"))
		return
	}
	if err != nil {
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Event{"type": "player", "player": p})
}

func (s *Server) recentMatches(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.store.RecentMatches(limit)
	if err != nil {
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Event{"type": "matches", "matches": matches})
}

func (s *Server) dispatch(w http.ResponseWriter, userID string, act protocol.ActMsg) {
	if userID == "" {
		writeError(w, protocol.Errf(protocol.ErrBadRequest, "user_id is required"))
		return
	}
	ev, err := s.core.Dispatch(userID, act)
	if err != nil {
		if protocol.CodeOf(err) == protocol.ErrInternal && s.log != nil {
			s.log.Printf("http: %s op %s: %v", userID, act.Op, err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) internal(w http.ResponseWriter, err error) {
	if s.log != nil {
		s.log.Printf("http: %v", err)
	}
	writeError(w, protocol.Errf(protocol.ErrInternal, "internal error"))
}

func decodeAct(w http.ResponseWriter, r *http.Request) (actRequest, bool) {
	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.Errf(protocol.ErrProtoBadRequest, "bad json: %v", err))
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	msg := err.Error()
	if pe, ok := err.(*protocol.Error); ok {
		msg = pe.Msg
	}
	writeJSON(w, statusOf(code), map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

func statusOf(code string) int {
	switch code {
	case protocol.ErrProtoBadRequest, protocol.ErrBadRequest:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrNotParticipant:
		return http.StatusForbidden
	case protocol.ErrConflict, protocol.ErrAlreadyFinished, protocol.ErrStale:
		return http.StatusConflict
	case protocol.ErrNoResource:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
