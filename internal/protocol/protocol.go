// internal/protocol/protocol.go
package protocol

import "encoding/json"

// Client -> server event names. The session layer rejects anything outside
// this set.
const (
	EventJoinRoom          = "joinRoom"
	EventRejoinRoom        = "rejoinRoom"
	EventSetTeam           = "setTeam"
	EventSetTeamName       = "setTeamName"
	EventPlayerFocus       = "playerFocus"
	EventBuzz              = "buzz"
	EventFalseStartAttempt = "falseStartAttempt"
	EventHostSetTeamCount  = "hostSetTeamCount"
	EventHostSetDuration   = "hostSetDuration"
	EventHostNextRound     = "hostNextRound"
	EventHostBeepStart     = "hostBeepStart"
	EventHostPauseTimer    = "hostPauseTimer"
	EventHostCorrect       = "hostCorrect"
	EventHostIncorrect     = "hostIncorrect"
	EventHostAdjustScore   = "hostAdjustScore"
	EventHostSetFairPlay   = "hostSetFairPlay"
	EventHostUnblockFocus  = "hostUnblockFocus"
	EventHostRemoveTeam    = "hostRemoveTeam"
	EventHostEndRound      = "hostEndRound"
)

// Server -> client event names.
const (
	EventJoinedRoom   = "joinedRoom"
	EventTeamSet      = "teamSet"
	EventRoomState    = "roomState"
	EventBeep         = "beep"
	EventBuzzed       = "buzzed"
	EventBuzzRejected = "buzzRejected"
	EventTimeUp       = "timeUp"
	EventCorrectFx    = "correctFx"
	EventKicked       = "kicked"
	EventErrorMsg     = "errorMsg"
)

// Buzz rejection reasons.
const (
	RejectNoTeam        = "NO_TEAM"
	RejectNotArmed      = "NOT_ARMED"
	RejectTimeUp        = "TIME_UP"
	RejectTeamLockedOut = "TEAM_LOCKED_OUT"
	RejectFocusLocked   = "FOCUS_LOCKED"
	RejectKicked        = "KICKED"
)

// KickReasonRemoved is the only kick reason currently emitted.
const KickReasonRemoved = "REMOVED_BY_HOST"

// Envelope frames every inbound wire message: an event name plus its raw
// payload, decoded into a typed struct once the event is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is an outbound message prior to serialization. The write pump
// marshals the whole envelope in one step.
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// --- Inbound payloads ---

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	HostKey  string `json:"hostKey,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
}

type SetTeamPayload struct {
	TeamID string `json:"teamId"`
}

type SetTeamNamePayload struct {
	TeamID string `json:"teamId"`
	Name   string `json:"name"`
}

type PlayerFocusPayload struct {
	Focused bool `json:"focused"`
}

type SetTeamCountPayload struct {
	Count int `json:"count"`
}

type SetDurationPayload struct {
	Seconds float64 `json:"seconds"`
}

// AdjustScorePayload carries Delta as a float so non-integer adjustments can
// be detected and rejected rather than silently truncated.
type AdjustScorePayload struct {
	TeamID string  `json:"teamId"`
	Delta  float64 `json:"delta"`
}

type SetFairPlayPayload struct {
	Enabled bool `json:"enabled"`
}

type TeamTargetPayload struct {
	TeamID string `json:"teamId"`
}

// --- Outbound payloads ---

type JoinedRoomPayload struct {
	RoomCode string `json:"roomCode"`
	IsHost   bool   `json:"isHost"`
}

type TeamSetPayload struct {
	TeamID string `json:"teamId"`
	Locked bool   `json:"locked"`
}

type BuzzedPayload struct {
	TeamID   string `json:"teamId"`
	RoomCode string `json:"roomCode"`
}

type BuzzRejectedPayload struct {
	Reason string `json:"reason"`
}

type CorrectFxPayload struct {
	TeamID string `json:"teamId"`
}

type KickedPayload struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason"`
}

type ErrorMsgPayload struct {
	Message string `json:"message"`
}

// TeamView is one team's public row in the room snapshot.
type TeamView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// TakenTeam records which player owns a claimed team.
type TakenTeam struct {
	TeamID   string `json:"teamId"`
	PlayerID string `json:"playerId"`
}

// LastBuzz identifies the most recent accepted buzz in the current round.
type LastBuzz struct {
	By     string `json:"by"`
	TeamID string `json:"teamId"`
}

// RoomState is the full public view of a room, broadcast after every
// mutating transition. The host key is never part of it.
type RoomState struct {
	RoomCode          string      `json:"roomCode"`
	MembersCount      int         `json:"membersCount"`
	TablesChosenCount int         `json:"tablesChosenCount"`
	Phase             string      `json:"phase"`
	RoundNumber       int         `json:"roundNumber"`
	DurationMs        int64       `json:"durationMs"`
	RemainingMs       int64       `json:"remainingMs"`
	TimerRunning      bool        `json:"timerRunning"`
	TimeUpAt          int64       `json:"timeUpAt,omitempty"`
	LockedByPlayerID  string      `json:"lockedByPlayerId,omitempty"`
	LockedByTeamID    string      `json:"lockedByTeamId,omitempty"`
	LastBuzz          *LastBuzz   `json:"lastBuzz,omitempty"`
	LockedOutTeams    []string    `json:"lockedOutTeams"`
	Teams             []TeamView  `json:"teams"`
	TakenTeams        []TakenTeam `json:"takenTeams"`
	TeamNameLocked    []string    `json:"teamNameLocked"`
	FirstBuzzTeamID   string      `json:"firstBuzzTeamId,omitempty"`
	GameOver          bool        `json:"gameOver"`
	WinnerTeamID      string      `json:"winnerTeamId,omitempty"`
	WinnerText        string      `json:"winnerText,omitempty"`
	FairPlayEnabled   bool        `json:"fairPlayEnabled"`
	FocusLockedTeams  []string    `json:"focusLockedTeams"`
	FalseStartTeams   []string    `json:"falseStartTeams"`
}
