// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kmrnm/ADABRA/internal/protocol"
	"github.com/kmrnm/ADABRA/internal/room"
)

// hostCommands is the set of events only the host may issue. Every one of
// them is additionally refused once the game is over.
var hostCommands = map[string]bool{
	protocol.EventHostSetTeamCount: true,
	protocol.EventHostSetDuration:  true,
	protocol.EventHostNextRound:    true,
	protocol.EventHostBeepStart:    true,
	protocol.EventHostPauseTimer:   true,
	protocol.EventHostCorrect:      true,
	protocol.EventHostIncorrect:    true,
	protocol.EventHostAdjustScore:  true,
	protocol.EventHostSetFairPlay:  true,
	protocol.EventHostUnblockFocus: true,
	protocol.EventHostRemoveTeam:   true,
	protocol.EventHostEndRound:     true,
}

// RoomWSHandler upgrades the connection and runs one client session: a
// joinRoom handshake, then the command read loop, with a write pump draining
// the session's outbound queue onto the wire.
func RoomWSHandler(logger *logrus.Logger, reg *room.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // same-origin static pages; tighten if deployed behind a domain
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		rm, sess, ok := awaitJoin(ctx, c, logger, reg, cancel)
		if !ok {
			return
		}
		logger.WithFields(logrus.Fields{
			"room":   rm.Code,
			"player": sess.PlayerID,
			"host":   sess.IsHost,
			"remote": r.RemoteAddr,
		}).Info("session joined")

		go writePump(ctx, c, sess, logger)

		readPump(ctx, c, rm, sess, logger)

		// Disconnect of any participant, the lock holder included, leaves the
		// round state untouched; only the member count changes.
		rm.Mu.Lock()
		rm.DetachSessionUnsafe(sess)
		rm.TouchUnsafe(time.Now().UnixMilli())
		rm.BroadcastStateUnsafe()
		rm.Mu.Unlock()
		cancel()
		logger.WithFields(logrus.Fields{"room": rm.Code, "player": sess.PlayerID}).Info("session left")
	}
}

// awaitJoin reads and validates the first client message, which must be
// joinRoom or rejoinRoom, and attaches a new session to the target room.
// Errors during the handshake are written directly since no write pump is
// running yet.
func awaitJoin(ctx context.Context, c *websocket.Conn, logger *logrus.Logger, reg *room.Registry, cancel context.CancelFunc) (*room.Room, *room.Session, bool) {
	typ, data, err := c.Read(ctx)
	if err != nil {
		return nil, nil, false
	}
	if typ != websocket.MessageText {
		c.Close(CloseBadJoin, "expected a text joinRoom message")
		return nil, nil, false
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.Close(CloseBadJoin, "invalid JSON")
		return nil, nil, false
	}
	if env.Event != protocol.EventJoinRoom && env.Event != protocol.EventRejoinRoom {
		c.Close(CloseBadJoin, "first message must be joinRoom")
		return nil, nil, false
	}
	var join protocol.JoinRoomPayload
	if err := json.Unmarshal(env.Data, &join); err != nil {
		c.Close(CloseBadJoin, "invalid joinRoom payload")
		return nil, nil, false
	}

	code := strings.ToUpper(strings.TrimSpace(join.RoomCode))
	if code == "" {
		writeDirect(c, protocol.ServerEvent{Event: protocol.EventErrorMsg, Data: protocol.ErrorMsgPayload{Message: "Room code is required"}})
		c.Close(CloseBadJoin, "empty room code")
		return nil, nil, false
	}
	rm, found := reg.GetRoom(code)
	if !found {
		writeDirect(c, protocol.ServerEvent{Event: protocol.EventErrorMsg, Data: protocol.ErrorMsgPayload{Message: fmt.Sprintf("Room %s does not exist", code)}})
		c.Close(CloseRoomNotFound, "room does not exist")
		return nil, nil, false
	}

	rm.Mu.Lock()
	if join.PlayerID != "" && rm.KickedPlayers[join.PlayerID] {
		rm.Mu.Unlock()
		writeDirect(c, protocol.ServerEvent{Event: protocol.EventKicked, Data: protocol.KickedPayload{RoomCode: code, Reason: protocol.KickReasonRemoved}})
		c.Close(CloseKicked, "removed by host")
		return nil, nil, false
	}
	isHost := join.HostKey != "" && join.HostKey == rm.HostKey
	sess := room.NewSession(join.PlayerID, isHost, cancel)
	rm.AttachSessionUnsafe(sess)
	rm.TouchUnsafe(time.Now().UnixMilli())

	sess.Send(protocol.ServerEvent{Event: protocol.EventJoinedRoom, Data: protocol.JoinedRoomPayload{RoomCode: code, IsHost: isHost}})
	if teamID, bound := rm.PlayerTeams[join.PlayerID]; bound {
		// Refresh-safe: a known player gets their team back without re-sending setTeam.
		sess.Send(protocol.ServerEvent{Event: protocol.EventTeamSet, Data: protocol.TeamSetPayload{TeamID: teamID, Locked: true}})
	}
	rm.BroadcastStateUnsafe()
	rm.Mu.Unlock()

	return rm, sess, true
}

// readPump reads commands until the connection or context dies.
func readPump(ctx context.Context, c *websocket.Conn, rm *room.Room, sess *room.Session, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				strings.Contains(err.Error(), "context canceled") {
				return
			}
			logger.Warnf("room %s: read error for session %s: %v", rm.Code, sess.ID, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.SendError("Invalid JSON format")
			continue
		}
		if detach := handleCommand(rm, sess, env); detach {
			return
		}
	}
}

// handleCommand validates authority and payload for one inbound event,
// applies the state machine transition under the room lock, and queues the
// resulting broadcasts. Returns true when the session must detach.
func handleCommand(rm *room.Room, sess *room.Session, env protocol.Envelope) bool {
	now := time.Now().UnixMilli()

	rm.Mu.Lock()
	defer rm.Mu.Unlock()

	if sess.PlayerID != "" && rm.KickedPlayers[sess.PlayerID] {
		sess.Send(kickedEvent(rm.Code))
		return true
	}
	if hostCommands[env.Event] {
		if !sess.IsHost {
			sess.SendError("host only")
			return false
		}
		if rm.GameOver {
			sess.SendError(room.ErrGameOver.Error())
			return false
		}
	}
	rm.TouchUnsafe(now)

	switch env.Event {
	case protocol.EventJoinRoom, protocol.EventRejoinRoom:
		// Already joined; re-ack so a confused client can resync.
		sess.Send(protocol.ServerEvent{Event: protocol.EventJoinedRoom, Data: protocol.JoinedRoomPayload{RoomCode: rm.Code, IsHost: sess.IsHost}})
		if teamID, bound := rm.PlayerTeams[sess.PlayerID]; bound {
			sess.Send(protocol.ServerEvent{Event: protocol.EventTeamSet, Data: protocol.TeamSetPayload{TeamID: teamID, Locked: true}})
		}
		sess.Send(protocol.ServerEvent{Event: protocol.EventRoomState, Data: rm.SnapshotUnsafe()})

	case protocol.EventSetTeam:
		var p protocol.SetTeamPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid setTeam payload")
			return false
		}
		teamID, err := rm.AssignTeam(sess.PlayerID, p.TeamID)
		if err != nil {
			sess.SendError(err.Error())
			return false
		}
		for _, s := range rm.SessionsForPlayerUnsafe(sess.PlayerID) {
			s.Send(protocol.ServerEvent{Event: protocol.EventTeamSet, Data: protocol.TeamSetPayload{TeamID: teamID, Locked: true}})
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventSetTeamName:
		var p protocol.SetTeamNamePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid setTeamName payload")
			return false
		}
		if err := rm.RenameTeam(sess.PlayerID, p.TeamID, p.Name); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventPlayerFocus:
		var p protocol.PlayerFocusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid playerFocus payload")
			return false
		}
		if !p.Focused && rm.FocusLost(sess.PlayerID) {
			rm.BroadcastStateUnsafe()
		}

	case protocol.EventBuzz, protocol.EventFalseStartAttempt:
		res := rm.Buzz(sess.PlayerID, now)
		if res.Reason == "" {
			rm.BroadcastUnsafe(protocol.ServerEvent{Event: protocol.EventBuzzed, Data: protocol.BuzzedPayload{TeamID: res.TeamID, RoomCode: rm.Code}})
			rm.BroadcastStateUnsafe()
			return false
		}
		sess.Send(protocol.ServerEvent{Event: protocol.EventBuzzRejected, Data: protocol.BuzzRejectedPayload{Reason: res.Reason}})
		if res.Changed {
			rm.BroadcastStateUnsafe()
		}

	case protocol.EventHostBeepStart:
		if err := rm.StartRound(now); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastUnsafe(protocol.ServerEvent{Event: protocol.EventBeep})
		rm.BroadcastStateUnsafe()

	case protocol.EventHostPauseTimer:
		if err := rm.PauseRound(); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostCorrect:
		teamID, err := rm.MarkCorrect()
		if err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastUnsafe(protocol.ServerEvent{Event: protocol.EventCorrectFx, Data: protocol.CorrectFxPayload{TeamID: teamID}})
		rm.BroadcastStateUnsafe()

	case protocol.EventHostIncorrect:
		if err := rm.MarkIncorrect(now); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostNextRound:
		if err := rm.NextRound(); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostEndRound:
		if err := rm.EndGame(); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostSetTeamCount:
		var p protocol.SetTeamCountPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostSetTeamCount payload")
			return false
		}
		if err := rm.SetTeamCount(p.Count); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostSetDuration:
		var p protocol.SetDurationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostSetDuration payload")
			return false
		}
		if err := rm.SetDuration(p.Seconds); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostAdjustScore:
		var p protocol.AdjustScorePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostAdjustScore payload")
			return false
		}
		if err := rm.AdjustScore(p.TeamID, p.Delta); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostSetFairPlay:
		var p protocol.SetFairPlayPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostSetFairPlay payload")
			return false
		}
		rm.SetFairPlay(p.Enabled)
		rm.BroadcastStateUnsafe()

	case protocol.EventHostUnblockFocus:
		var p protocol.TeamTargetPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostUnblockFocus payload")
			return false
		}
		if err := rm.UnblockFocus(p.TeamID); err != nil {
			sess.SendError(err.Error())
			return false
		}
		rm.BroadcastStateUnsafe()

	case protocol.EventHostRemoveTeam:
		var p protocol.TeamTargetPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			sess.SendError("Invalid hostRemoveTeam payload")
			return false
		}
		kickedPlayer, err := rm.RemoveTeam(p.TeamID, now)
		if err != nil {
			sess.SendError(err.Error())
			return false
		}
		for _, s := range rm.SessionsForPlayerUnsafe(kickedPlayer) {
			s.Send(kickedEvent(rm.Code))
			if s.Cancel != nil {
				s.Cancel()
			}
		}
		rm.BroadcastStateUnsafe()

	default:
		sess.SendError(fmt.Sprintf("Unknown event: %s", env.Event))
	}
	return false
}

func kickedEvent(roomCode string) protocol.ServerEvent {
	return protocol.ServerEvent{
		Event: protocol.EventKicked,
		Data:  protocol.KickedPayload{RoomCode: roomCode, Reason: protocol.KickReasonRemoved},
	}
}

// writePump drains the session's outbound queue onto the websocket and sends
// periodic pings. On context cancellation it flushes whatever is already
// queued (a kicked notice, typically) before closing.
func writePump(ctx context.Context, c *websocket.Conn, sess *room.Session, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushOutbound(c, sess)
			c.Close(websocket.StatusGoingAway, "session closed")
			return
		case ev := <-sess.Out:
			if !writeEvent(ctx, c, ev, logger) {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("session %s: ping failed, assuming disconnect: %v", sess.ID, err)
				return
			}
		}
	}
}

// flushOutbound writes any already-queued events with a short deadline each.
func flushOutbound(c *websocket.Conn, sess *room.Session) {
	for {
		select {
		case ev := <-sess.Out:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = c.Write(ctx, websocket.MessageText, data)
			cancel()
		default:
			return
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev protocol.ServerEvent, logger *logrus.Logger) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warnf("failed to marshal outbound %q: %v", ev.Event, err)
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = c.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		return false
	}
	return true
}

// writeDirect is for handshake-phase messages, before the write pump exists.
func writeDirect(c *websocket.Conn, ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Write(ctx, websocket.MessageText, data)
}
