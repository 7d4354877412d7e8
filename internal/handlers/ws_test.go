// internal/handlers/ws_test.go
package handlers

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrnm/ADABRA/internal/protocol"
	"github.com/kmrnm/ADABRA/internal/room"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// env builds an inbound envelope with a marshaled payload.
func env(t *testing.T, event string, payload interface{}) protocol.Envelope {
	t.Helper()
	e := protocol.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		e.Data = data
	}
	return e
}

func drain(s *room.Session) []protocol.ServerEvent {
	var out []protocol.ServerEvent
	for {
		select {
		case ev := <-s.Out:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func names(evs []protocol.ServerEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Event)
	}
	return out
}

func lastError(t *testing.T, evs []protocol.ServerEvent) string {
	t.Helper()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Event == protocol.EventErrorMsg {
			return evs[i].Data.(protocol.ErrorMsgPayload).Message
		}
	}
	t.Fatal("no errorMsg event found")
	return ""
}

// testRig is a room with a host session and two team-bound player sessions.
type testRig struct {
	rm   *room.Room
	host *room.Session
	p1   *room.Session
	p2   *room.Session
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	reg := room.NewRegistry(testLogger())
	rm := reg.CreateRoom()

	host := room.NewSession("", true, nil)
	p1 := room.NewSession("p1", false, nil)
	p2 := room.NewSession("p2", false, nil)
	rm.Mu.Lock()
	rm.AttachSessionUnsafe(host)
	rm.AttachSessionUnsafe(p1)
	rm.AttachSessionUnsafe(p2)
	rm.Mu.Unlock()

	rig := &testRig{rm: rm, host: host, p1: p1, p2: p2}
	require.False(t, handleCommand(rm, p1, env(t, protocol.EventSetTeam, protocol.SetTeamPayload{TeamID: "1"})))
	require.False(t, handleCommand(rm, p2, env(t, protocol.EventSetTeam, protocol.SetTeamPayload{TeamID: "2"})))
	rig.drainAll()
	return rig
}

func (rig *testRig) drainAll() {
	drain(rig.host)
	drain(rig.p1)
	drain(rig.p2)
}

func TestSetTeamEmitsTeamSet(t *testing.T) {
	reg := room.NewRegistry(testLogger())
	rm := reg.CreateRoom()
	p1 := room.NewSession("p1", false, nil)
	rm.Mu.Lock()
	rm.AttachSessionUnsafe(p1)
	rm.Mu.Unlock()

	handleCommand(rm, p1, env(t, protocol.EventSetTeam, protocol.SetTeamPayload{TeamID: "1"}))

	evs := drain(p1)
	require.Equal(t, []string{protocol.EventTeamSet, protocol.EventRoomState}, names(evs))
	ts := evs[0].Data.(protocol.TeamSetPayload)
	assert.Equal(t, "1", ts.TeamID)
	assert.True(t, ts.Locked)

	// Second setTeam for a different team confirms the original binding.
	handleCommand(rm, p1, env(t, protocol.EventSetTeam, protocol.SetTeamPayload{TeamID: "2"}))
	evs = drain(p1)
	ts = evs[0].Data.(protocol.TeamSetPayload)
	assert.Equal(t, "1", ts.TeamID)
}

func TestFairFirstBuzzFlow(t *testing.T) {
	rig := newTestRig(t)

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostBeepStart, nil))
	assert.Equal(t, []string{protocol.EventBeep, protocol.EventRoomState}, names(drain(rig.p1)))
	rig.drainAll()

	// p1's buzz enters the critical section first.
	handleCommand(rig.rm, rig.p1, env(t, protocol.EventBuzz, nil))
	evs := drain(rig.p2)
	require.Equal(t, []string{protocol.EventBuzzed, protocol.EventRoomState}, names(evs))
	buzzed := evs[0].Data.(protocol.BuzzedPayload)
	assert.Equal(t, "1", buzzed.TeamID)
	st := evs[1].Data.(protocol.RoomState)
	assert.Equal(t, "locked", st.Phase)
	assert.False(t, st.TimerRunning)
	assert.Equal(t, "p1", st.LockedByPlayerID)
	rig.drainAll()

	// p2's late buzz is rejected without any broadcast.
	handleCommand(rig.rm, rig.p2, env(t, protocol.EventBuzz, nil))
	evs = drain(rig.p2)
	require.Equal(t, []string{protocol.EventBuzzRejected}, names(evs))
	assert.Equal(t, protocol.RejectNotArmed, evs[0].Data.(protocol.BuzzRejectedPayload).Reason)
	assert.Empty(t, drain(rig.p1))
	assert.Empty(t, drain(rig.host))
}

func TestIncorrectThenOtherTeamBuzzes(t *testing.T) {
	rig := newTestRig(t)
	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostBeepStart, nil))
	handleCommand(rig.rm, rig.p1, env(t, protocol.EventBuzz, nil))
	rig.drainAll()

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostIncorrect, nil))
	evs := drain(rig.host)
	require.Equal(t, []string{protocol.EventRoomState}, names(evs))
	st := evs[0].Data.(protocol.RoomState)
	assert.Equal(t, "armed", st.Phase)
	assert.True(t, st.TimerRunning)
	assert.Equal(t, []string{"1"}, st.LockedOutTeams)
	rig.drainAll()

	handleCommand(rig.rm, rig.p1, env(t, protocol.EventBuzz, nil))
	evs = drain(rig.p1)
	require.Equal(t, []string{protocol.EventBuzzRejected}, names(evs))
	assert.Equal(t, protocol.RejectTeamLockedOut, evs[0].Data.(protocol.BuzzRejectedPayload).Reason)

	handleCommand(rig.rm, rig.p2, env(t, protocol.EventBuzz, nil))
	evs = drain(rig.p2)
	require.Equal(t, []string{protocol.EventBuzzed, protocol.EventRoomState}, names(evs))
	assert.Equal(t, "2", evs[1].Data.(protocol.RoomState).LockedByTeamID)
}

func TestCorrectBroadcastsFx(t *testing.T) {
	rig := newTestRig(t)
	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostBeepStart, nil))
	handleCommand(rig.rm, rig.p1, env(t, protocol.EventBuzz, nil))
	rig.drainAll()

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostCorrect, nil))
	evs := drain(rig.p2)
	require.Equal(t, []string{protocol.EventCorrectFx, protocol.EventRoomState}, names(evs))
	assert.Equal(t, "1", evs[0].Data.(protocol.CorrectFxPayload).TeamID)
	st := evs[1].Data.(protocol.RoomState)
	assert.Equal(t, "lobby", st.Phase)
	assert.Equal(t, 1, st.Teams[0].Score)
	assert.Equal(t, 1, st.RoundNumber)
}

func TestFalseStartBroadcastsState(t *testing.T) {
	rig := newTestRig(t)

	handleCommand(rig.rm, rig.p1, env(t, protocol.EventFalseStartAttempt, nil))
	evs := drain(rig.p1)
	require.Equal(t, []string{protocol.EventBuzzRejected, protocol.EventRoomState}, names(evs))
	st := evs[1].Data.(protocol.RoomState)
	assert.Equal(t, []string{"1"}, st.FalseStartTeams)
	assert.Equal(t, []string{"1"}, st.LockedOutTeams)
}

func TestHostOnlyGate(t *testing.T) {
	rig := newTestRig(t)

	handleCommand(rig.rm, rig.p1, env(t, protocol.EventHostBeepStart, nil))
	assert.Equal(t, "host only", lastError(t, drain(rig.p1)))
	assert.Equal(t, room.PhaseLobby, rig.rm.Phase)
}

func TestGameOverGate(t *testing.T) {
	rig := newTestRig(t)
	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostEndRound, nil))
	rig.drainAll()

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostBeepStart, nil))
	assert.Equal(t, room.ErrGameOver.Error(), lastError(t, drain(rig.host)))

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostAdjustScore, protocol.AdjustScorePayload{TeamID: "1", Delta: 1}))
	assert.Equal(t, room.ErrGameOver.Error(), lastError(t, drain(rig.host)))
	assert.Zero(t, rig.rm.Teams[0].Score)
}

func TestRemoveTeamKicksOwner(t *testing.T) {
	rig := newTestRig(t)
	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostBeepStart, nil))
	handleCommand(rig.rm, rig.p2, env(t, protocol.EventBuzz, nil))
	rig.drainAll()

	handleCommand(rig.rm, rig.host, env(t, protocol.EventHostRemoveTeam, protocol.TeamTargetPayload{TeamID: "2"}))

	evs := drain(rig.p2)
	require.Equal(t, []string{protocol.EventKicked, protocol.EventRoomState}, names(evs))
	kicked := evs[0].Data.(protocol.KickedPayload)
	assert.Equal(t, protocol.KickReasonRemoved, kicked.Reason)

	st := evs[1].Data.(protocol.RoomState)
	assert.Equal(t, "armed", st.Phase)
	assert.True(t, st.TimerRunning)
	assert.Equal(t, "Team 2", st.Teams[1].Name)

	// Any further command from the kicked player detaches the session.
	detach := handleCommand(rig.rm, rig.p2, env(t, protocol.EventBuzz, nil))
	assert.True(t, detach)
	evs = drain(rig.p2)
	require.Equal(t, []string{protocol.EventKicked}, names(evs))
}

func TestRejoinResendsTeamAndState(t *testing.T) {
	rig := newTestRig(t)

	handleCommand(rig.rm, rig.p1, env(t, protocol.EventRejoinRoom, protocol.JoinRoomPayload{RoomCode: rig.rm.Code, PlayerID: "p1"}))
	evs := drain(rig.p1)
	require.Equal(t, []string{protocol.EventJoinedRoom, protocol.EventTeamSet, protocol.EventRoomState}, names(evs))
	assert.Equal(t, "1", evs[1].Data.(protocol.TeamSetPayload).TeamID)
	// Private resync, not a broadcast.
	assert.Empty(t, drain(rig.p2))
}

func TestUnknownAndMalformedCommands(t *testing.T) {
	rig := newTestRig(t)

	handleCommand(rig.rm, rig.p1, protocol.Envelope{Event: "teleport"})
	assert.Contains(t, lastError(t, drain(rig.p1)), "Unknown event")

	handleCommand(rig.rm, rig.host, protocol.Envelope{Event: protocol.EventHostSetDuration, Data: []byte(`"oops"`)})
	assert.Contains(t, lastError(t, drain(rig.host)), "Invalid hostSetDuration payload")
}

func TestHostCommandSetMatchesProtocol(t *testing.T) {
	expected := []string{
		protocol.EventHostSetTeamCount, protocol.EventHostSetDuration,
		protocol.EventHostNextRound, protocol.EventHostBeepStart,
		protocol.EventHostPauseTimer, protocol.EventHostCorrect,
		protocol.EventHostIncorrect, protocol.EventHostAdjustScore,
		protocol.EventHostSetFairPlay, protocol.EventHostUnblockFocus,
		protocol.EventHostRemoveTeam, protocol.EventHostEndRound,
	}
	assert.Len(t, hostCommands, len(expected))
	for _, ev := range expected {
		assert.True(t, hostCommands[ev], "missing host gate for %s", ev)
	}
}
