// internal/room/room.go
package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kmrnm/ADABRA/internal/protocol"
)

// Phase is the round state machine's current state.
type Phase string

const (
	PhaseLobby  Phase = "lobby"  // between rounds, timer stopped
	PhaseArmed  Phase = "armed"  // timer running, first valid buzz wins
	PhaseLocked Phase = "locked" // a team is answering, timer paused
)

const (
	MinTeams = 2
	MaxTeams = 6

	DefaultDurationMs int64 = 15000
	MinDurationMs     int64 = 1000
	MaxDurationMs     int64 = 600000
)

// Team is a scoring unit owned by at most one player.
type Team struct {
	ID    string
	Name  string
	Score int
}

// Room holds the entire state for one game instance in memory. Every
// state-mutating path (commands, timer ticks, disconnects, the reaper) must
// hold Mu from first read through broadcast. Methods suffixed Unsafe assume
// the caller holds Mu.
type Room struct {
	Code    string
	HostKey string

	CreatedAt      int64 // unix ms
	LastActivityAt int64

	Phase       Phase
	RoundNumber int

	DurationMs      int64
	RemainingMs     int64
	TimerRunning    bool
	TimerLastTickAt int64
	TimeUpAt        int64 // unix ms of last expiry, 0 when unset

	Teams            []*Team
	TeamTaken        map[string]string // teamID -> playerID
	TeamNameLocked   map[string]bool   // teams whose one rename is spent
	PlayerTeams      map[string]string // playerID -> teamID
	LockedOutTeams   map[string]bool
	FalseStartTeams  map[string]bool
	FocusLockedTeams map[string]bool
	KickedPlayers    map[string]bool

	LockedByPlayerID string
	LockedByTeamID   string
	LastBuzz         *protocol.LastBuzz
	FirstBuzzTeamID  string

	FairPlayEnabled bool

	GameOver     bool
	WinnerTeamID string
	WinnerText   string

	Mu       sync.Mutex
	sessions map[*Session]struct{}
}

// New builds a fresh room in the lobby phase with two default teams.
func New(code, hostKey string, now int64) *Room {
	r := &Room{
		Code:             code,
		HostKey:          hostKey,
		CreatedAt:        now,
		LastActivityAt:   now,
		Phase:            PhaseLobby,
		DurationMs:       DefaultDurationMs,
		RemainingMs:      DefaultDurationMs,
		TeamTaken:        make(map[string]string),
		TeamNameLocked:   make(map[string]bool),
		PlayerTeams:      make(map[string]string),
		LockedOutTeams:   make(map[string]bool),
		FalseStartTeams:  make(map[string]bool),
		FocusLockedTeams: make(map[string]bool),
		KickedPlayers:    make(map[string]bool),
		FairPlayEnabled:  true,
		sessions:         make(map[*Session]struct{}),
	}
	for i := 0; i < MinTeams; i++ {
		r.appendTeamUnsafe()
	}
	return r
}

// appendTeamUnsafe adds the next default-named team. Assumes Mu is held
// (or the room is not yet shared).
func (r *Room) appendTeamUnsafe() *Team {
	id := fmt.Sprintf("%d", len(r.Teams)+1)
	t := &Team{ID: id, Name: "Team " + id}
	r.Teams = append(r.Teams, t)
	return t
}

// TeamByIDUnsafe returns the team with the given id, or nil.
func (r *Room) TeamByIDUnsafe(id string) *Team {
	for _, t := range r.Teams {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TouchUnsafe resets the idle clock. Every accepted command calls it.
func (r *Room) TouchUnsafe(now int64) {
	r.LastActivityAt = now
}

// AttachSessionUnsafe subscribes a session to the room's broadcasts.
func (r *Room) AttachSessionUnsafe(s *Session) {
	r.sessions[s] = struct{}{}
}

// DetachSessionUnsafe removes a session from the broadcast group.
func (r *Room) DetachSessionUnsafe(s *Session) {
	delete(r.sessions, s)
}

// MembersCountUnsafe is the number of currently attached sessions.
func (r *Room) MembersCountUnsafe() int {
	return len(r.sessions)
}

// SessionsUnsafe returns the attached sessions as a slice.
func (r *Room) SessionsUnsafe() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SessionsForPlayerUnsafe returns every session bound to playerID. Multiple
// sessions may share one player identity (refresh, second tab).
func (r *Room) SessionsForPlayerUnsafe(playerID string) []*Session {
	var out []*Session
	if playerID == "" {
		return out
	}
	for s := range r.sessions {
		if s.PlayerID == playerID {
			out = append(out, s)
		}
	}
	return out
}

// BroadcastUnsafe queues an event on every attached session. Session sends
// are non-blocking channel writes; the per-connection write pump performs
// the actual network I/O outside the room lock.
func (r *Room) BroadcastUnsafe(ev protocol.ServerEvent) {
	for s := range r.sessions {
		s.Send(ev)
	}
}

// BroadcastStateUnsafe queues the current public view on every session.
func (r *Room) BroadcastStateUnsafe() {
	r.BroadcastUnsafe(protocol.ServerEvent{Event: protocol.EventRoomState, Data: r.SnapshotUnsafe()})
}

// SnapshotUnsafe produces the public view of the room. The host key is
// deliberately absent.
func (r *Room) SnapshotUnsafe() protocol.RoomState {
	st := protocol.RoomState{
		RoomCode:          r.Code,
		MembersCount:      len(r.sessions),
		TablesChosenCount: len(r.TeamTaken),
		Phase:             string(r.Phase),
		RoundNumber:       r.RoundNumber,
		DurationMs:        r.DurationMs,
		RemainingMs:       r.RemainingMs,
		TimerRunning:      r.TimerRunning,
		TimeUpAt:          r.TimeUpAt,
		LockedByPlayerID:  r.LockedByPlayerID,
		LockedByTeamID:    r.LockedByTeamID,
		FirstBuzzTeamID:   r.FirstBuzzTeamID,
		GameOver:          r.GameOver,
		WinnerTeamID:      r.WinnerTeamID,
		WinnerText:        r.WinnerText,
		FairPlayEnabled:   r.FairPlayEnabled,
		LockedOutTeams:    sortedKeys(r.LockedOutTeams),
		FocusLockedTeams:  sortedKeys(r.FocusLockedTeams),
		FalseStartTeams:   sortedKeys(r.FalseStartTeams),
		TeamNameLocked:    sortedKeys(r.TeamNameLocked),
	}
	if r.LastBuzz != nil {
		lb := *r.LastBuzz
		st.LastBuzz = &lb
	}
	st.Teams = make([]protocol.TeamView, 0, len(r.Teams))
	for _, t := range r.Teams {
		st.Teams = append(st.Teams, protocol.TeamView{ID: t.ID, Name: t.Name, Score: t.Score})
	}
	st.TakenTeams = make([]protocol.TakenTeam, 0, len(r.TeamTaken))
	for teamID, playerID := range r.TeamTaken {
		st.TakenTeams = append(st.TakenTeams, protocol.TakenTeam{TeamID: teamID, PlayerID: playerID})
	}
	sort.Slice(st.TakenTeams, func(i, j int) bool { return st.TakenTeams[i].TeamID < st.TakenTeams[j].TeamID })
	return st
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
