// Package ws is the websocket gateway: HELLO/WELCOME handshake, then ACT
// messages in, EVENT/ERROR messages out. The chat frontend holds one
// connection per online player.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fablebot.gg/internal/protocol"
	"fablebot.gg/internal/transport"
)

type Server struct {
	core *transport.Core
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(core *transport.Core, logger *log.Logger) *Server {
	return &Server{
		core: core,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		userID := s.handshake(conn)
		if userID == "" {
			return
		}

		out := make(chan []byte, 32)
		done := make(chan struct{})
		var closeOnce sync.Once
		closeDone := func() { closeOnce.Do(func() { close(done) }) }

		// Writer goroutine: the reader loop never writes the socket
		// directly.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						closeDone()
						return
					}
				}
			}
		}()
		defer closeDone()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}

			ev, err := s.core.Dispatch(userID, act)
			var reply any
			if err != nil {
				pe := protocol.ErrorMsg{
					Type: protocol.TypeError, Seq: act.Seq,
					Code: protocol.CodeOf(err), Message: err.Error(),
				}
				if pe.Code == protocol.ErrInternal && s.log != nil {
					s.log.Printf("ws: %s op %s: %v", userID, act.Op, err)
				}
				reply = pe
			} else {
				reply = protocol.EventMsg{Type: protocol.TypeEvent, Seq: act.Seq, Event: ev}
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-done:
				return
			}
		}
	}
}

// handshake expects a HELLO with a matching protocol version and a user id,
// and answers with a WELCOME.
func (s *Server) handshake(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.refuse(conn, "expected HELLO")
		return ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return ""
	}
	if hello.ProtocolVersion != protocol.Version {
		s.refuse(conn, "bad protocol_version")
		return ""
	}
	if hello.UserID == "" {
		s.refuse(conn, "missing user_id")
		return ""
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		UserID:          hello.UserID,
		ServerTimeUnix:  time.Now().Unix(),
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return ""
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return ""
	}
	return hello.UserID
}

func (s *Server) refuse(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
}
