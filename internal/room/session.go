// internal/room/session.go
package room

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kmrnm/ADABRA/internal/protocol"
)

// Session is one client's presence in a room. It is the per-connection
// outbound queue: the websocket handler owns the read side, the write pump
// drains Out onto the wire.
type Session struct {
	ID       uuid.UUID
	PlayerID string // client-generated stable identity, may be empty
	IsHost   bool
	Out      chan protocol.ServerEvent
	Cancel   context.CancelFunc
}

// NewSession builds a session with a buffered outbound queue.
func NewSession(playerID string, isHost bool, cancel context.CancelFunc) *Session {
	return &Session{
		ID:       uuid.New(),
		PlayerID: playerID,
		IsHost:   isHost,
		Out:      make(chan protocol.ServerEvent, 32),
		Cancel:   cancel,
	}
}

// Send queues an event without blocking. A full queue means the client has
// stopped draining; the event is dropped and the write pump's next failure
// will tear the connection down.
func (s *Session) Send(ev protocol.ServerEvent) {
	select {
	case s.Out <- ev:
	default:
		log.Warnf("session %s: outbound queue full, dropped %q", s.ID, ev.Event)
	}
}

// SendError queues a recoverable command error.
func (s *Session) SendError(msg string) {
	s.Send(protocol.ServerEvent{
		Event: protocol.EventErrorMsg,
		Data:  protocol.ErrorMsgPayload{Message: msg},
	})
}
