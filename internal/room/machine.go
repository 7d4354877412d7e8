// internal/room/machine.go
package room

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kmrnm/ADABRA/internal/protocol"
)

// ErrGameOver is returned by transitions once the host has ended the game.
// The message is relayed to clients verbatim.
var ErrGameOver = errors.New("Game is over. Create a new room.")

// BuzzResult reports the outcome of a buzz attempt. Reason is empty when the
// buzz was accepted. Changed is true whenever room state mutated, which
// includes rejected false starts.
type BuzzResult struct {
	TeamID  string
	Reason  string
	Changed bool
}

// All transition methods below assume r.Mu is held by the caller.

// StartRound arms the room: fresh round state, full clock, timer running.
func (r *Room) StartRound(now int64) error {
	if r.GameOver {
		return ErrGameOver
	}
	if r.Phase != PhaseLobby {
		return fmt.Errorf("round already in progress")
	}
	r.resetRoundUnsafe()
	r.Phase = PhaseArmed
	r.TimerRunning = true
	r.TimerLastTickAt = now
	return nil
}

// Buzz applies a buzz attempt from playerID. First-buzz-wins is enforced by
// the room mutex: whichever buzz enters the critical section first while the
// room is armed takes the lock. A press during lobby is a false start and
// locks the team out of the next arming.
func (r *Room) Buzz(playerID string, now int64) BuzzResult {
	if r.KickedPlayers[playerID] {
		return BuzzResult{Reason: protocol.RejectKicked}
	}
	teamID, ok := r.PlayerTeams[playerID]
	if !ok || playerID == "" {
		return BuzzResult{Reason: protocol.RejectNoTeam}
	}

	switch r.Phase {
	case PhaseLobby:
		if r.GameOver {
			return BuzzResult{TeamID: teamID, Reason: protocol.RejectNotArmed}
		}
		changed := !r.LockedOutTeams[teamID]
		r.LockedOutTeams[teamID] = true
		r.FalseStartTeams[teamID] = true
		return BuzzResult{TeamID: teamID, Reason: protocol.RejectNotArmed, Changed: changed}
	case PhaseLocked:
		return BuzzResult{TeamID: teamID, Reason: protocol.RejectNotArmed}
	}

	// armed
	if r.LockedOutTeams[teamID] {
		return BuzzResult{TeamID: teamID, Reason: protocol.RejectTeamLockedOut}
	}
	if r.FairPlayEnabled && r.FocusLockedTeams[teamID] {
		return BuzzResult{TeamID: teamID, Reason: protocol.RejectFocusLocked}
	}
	if r.RemainingMs <= 0 {
		return BuzzResult{TeamID: teamID, Reason: protocol.RejectTimeUp}
	}

	r.Phase = PhaseLocked
	r.TimerRunning = false
	r.LockedByPlayerID = playerID
	r.LockedByTeamID = teamID
	r.LastBuzz = &protocol.LastBuzz{By: playerID, TeamID: teamID}
	if r.FirstBuzzTeamID == "" {
		r.FirstBuzzTeamID = teamID
	}
	return BuzzResult{TeamID: teamID, Changed: true}
}

// PauseRound aborts an armed round back to lobby with a full clock. Lockouts
// survive until the next StartRound, which resets them.
func (r *Room) PauseRound() error {
	if r.GameOver {
		return ErrGameOver
	}
	if r.Phase != PhaseArmed {
		return fmt.Errorf("timer is not running")
	}
	r.Phase = PhaseLobby
	r.TimerRunning = false
	r.RemainingMs = r.DurationMs
	return nil
}

// AdvanceTimer decrements the clock by the wall time elapsed since the last
// tick and fires the expiry transition when it reaches zero. Returns true if
// the round expired on this tick.
func (r *Room) AdvanceTimer(now int64) bool {
	if !r.TimerRunning {
		return false
	}
	delta := now - r.TimerLastTickAt
	if delta < 0 {
		delta = 0
	}
	r.RemainingMs -= delta
	if r.RemainingMs < 0 {
		r.RemainingMs = 0
	}
	r.TimerLastTickAt = now
	if r.RemainingMs == 0 {
		r.expireRoundUnsafe(now)
		return true
	}
	return false
}

// expireRoundUnsafe runs the time-up transition.
func (r *Room) expireRoundUnsafe(now int64) {
	r.TimerRunning = false
	r.TimeUpAt = now
	r.Phase = PhaseLobby
	r.LockedByPlayerID = ""
	r.LockedByTeamID = ""
	r.LastActivityAt = now
}

// MarkCorrect awards the answering team a point and ends the round.
func (r *Room) MarkCorrect() (string, error) {
	if r.GameOver {
		return "", ErrGameOver
	}
	if r.Phase != PhaseLocked {
		return "", fmt.Errorf("no team is answering")
	}
	teamID := r.LockedByTeamID
	if t := r.TeamByIDUnsafe(teamID); t != nil {
		t.Score++
	}
	r.RoundNumber++
	r.Phase = PhaseLobby
	r.TimerRunning = false
	r.RemainingMs = r.DurationMs
	r.LockedByPlayerID = ""
	r.LockedByTeamID = ""
	return teamID, nil
}

// MarkIncorrect locks the answering team out for the rest of the round and
// re-arms, resuming the clock where it paused.
func (r *Room) MarkIncorrect(now int64) error {
	if r.GameOver {
		return ErrGameOver
	}
	if r.Phase != PhaseLocked {
		return fmt.Errorf("no team is answering")
	}
	r.LockedOutTeams[r.LockedByTeamID] = true
	r.LockedByPlayerID = ""
	r.LockedByTeamID = ""
	if r.RemainingMs > 0 {
		r.Phase = PhaseArmed
		r.TimerRunning = true
		r.TimerLastTickAt = now
	} else {
		r.expireRoundUnsafe(now)
	}
	return nil
}

// NextRound advances the round counter and fully resets round state.
func (r *Room) NextRound() error {
	if r.GameOver {
		return ErrGameOver
	}
	r.RoundNumber++
	r.Phase = PhaseLobby
	r.resetRoundUnsafe()
	return nil
}

// EndGame freezes the room and computes the winner by highest score. Ties
// produce a joined winner list instead of a single team.
func (r *Room) EndGame() error {
	if r.GameOver {
		return ErrGameOver
	}
	r.Phase = PhaseLobby
	r.TimerRunning = false
	r.LockedByPlayerID = ""
	r.LockedByTeamID = ""
	r.GameOver = true

	best := math.MinInt
	var winners []*Team
	for _, t := range r.Teams {
		if t.Score > best {
			best = t.Score
			winners = winners[:0]
		}
		if t.Score == best {
			winners = append(winners, t)
		}
	}
	if len(winners) == 1 {
		r.WinnerTeamID = winners[0].ID
	} else {
		names := make([]string, 0, len(winners))
		for _, t := range winners {
			names = append(names, t.Name)
		}
		r.WinnerText = strings.Join(names, ", ")
	}
	return nil
}

// resetRoundUnsafe clears all per-round state and restores a full clock.
func (r *Room) resetRoundUnsafe() {
	r.TimerRunning = false
	r.RemainingMs = r.DurationMs
	r.TimeUpAt = 0
	r.LockedByPlayerID = ""
	r.LockedByTeamID = ""
	r.LastBuzz = nil
	r.FirstBuzzTeamID = ""
	r.LockedOutTeams = make(map[string]bool)
	r.FalseStartTeams = make(map[string]bool)
	r.FocusLockedTeams = make(map[string]bool)
}

// AssignTeam binds playerID to teamID. The binding is permanent for the
// room's lifetime: repeated calls return the original team, whatever teamID
// was requested.
func (r *Room) AssignTeam(playerID, teamID string) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("missing playerId")
	}
	if existing, ok := r.PlayerTeams[playerID]; ok {
		return existing, nil
	}
	if r.TeamByIDUnsafe(teamID) == nil {
		return "", fmt.Errorf("unknown team %q", teamID)
	}
	if owner, taken := r.TeamTaken[teamID]; taken && owner != playerID {
		return "", fmt.Errorf("team %s is already taken", teamID)
	}
	r.PlayerTeams[playerID] = teamID
	r.TeamTaken[teamID] = playerID
	return teamID, nil
}

// RenameTeam applies the one-time team rename. Whitespace is collapsed and
// the cleaned name must be 2-16 characters.
func (r *Room) RenameTeam(playerID, teamID, rawName string) error {
	t := r.TeamByIDUnsafe(teamID)
	if t == nil {
		return fmt.Errorf("unknown team %q", teamID)
	}
	if r.TeamTaken[teamID] != playerID || playerID == "" {
		return fmt.Errorf("you do not own team %s", teamID)
	}
	if r.TeamNameLocked[teamID] {
		return fmt.Errorf("team name can only be changed once")
	}
	name := strings.Join(strings.Fields(rawName), " ")
	if n := len([]rune(name)); n < 2 || n > 16 {
		return fmt.Errorf("team name must be 2-16 characters")
	}
	t.Name = name
	r.TeamNameLocked[teamID] = true
	return nil
}

// FocusLost records a FairPlay focus loss for the player's team. Only
// meaningful while a round is live. Returns true if state changed.
func (r *Room) FocusLost(playerID string) bool {
	if !r.FairPlayEnabled {
		return false
	}
	teamID, ok := r.PlayerTeams[playerID]
	if !ok {
		return false
	}
	if r.Phase != PhaseArmed && r.Phase != PhaseLocked {
		return false
	}
	if r.FocusLockedTeams[teamID] {
		return false
	}
	r.FocusLockedTeams[teamID] = true
	return true
}

// SetTeamCount grows the team list to n. The count never decreases.
func (r *Room) SetTeamCount(n int) error {
	if n < MinTeams || n > MaxTeams {
		return fmt.Errorf("team count must be between %d and %d", MinTeams, MaxTeams)
	}
	if n < len(r.Teams) {
		return fmt.Errorf("team count cannot decrease")
	}
	for len(r.Teams) < n {
		r.appendTeamUnsafe()
	}
	return nil
}

// SetDuration updates the round length from a seconds value. While the timer
// is stopped the clock is rewritten to the full new length; while it runs the
// clock keeps counting but is clamped so remaining time never exceeds the
// configured length.
func (r *Room) SetDuration(seconds float64) error {
	ms := int64(math.Round(seconds * 1000))
	if ms < MinDurationMs || ms > MaxDurationMs {
		return fmt.Errorf("duration must be between 1 and 600 seconds")
	}
	r.DurationMs = ms
	if !r.TimerRunning {
		r.RemainingMs = ms
	} else if r.RemainingMs > ms {
		r.RemainingMs = ms
	}
	return nil
}

// AdjustScore applies a host score correction of at most 100 points either
// way. Non-integer deltas are rejected, never truncated.
func (r *Room) AdjustScore(teamID string, delta float64) error {
	if delta != math.Trunc(delta) {
		return fmt.Errorf("score delta must be an integer")
	}
	d := int(delta)
	if d < -100 || d > 100 {
		return fmt.Errorf("score delta must be between -100 and 100")
	}
	t := r.TeamByIDUnsafe(teamID)
	if t == nil {
		return fmt.Errorf("unknown team %q", teamID)
	}
	t.Score += d
	return nil
}

// SetFairPlay toggles the focus-loss policy. Disabling it releases every
// focus-locked team.
func (r *Room) SetFairPlay(enabled bool) {
	r.FairPlayEnabled = enabled
	if !enabled {
		r.FocusLockedTeams = make(map[string]bool)
	}
}

// UnblockFocus clears a single team's focus lock.
func (r *Room) UnblockFocus(teamID string) error {
	if r.TeamByIDUnsafe(teamID) == nil {
		return fmt.Errorf("unknown team %q", teamID)
	}
	delete(r.FocusLockedTeams, teamID)
	return nil
}

// RemoveTeam frees a team: the owning player is kicked permanently, the team
// reverts to its default name and zero score and may be claimed again. If the
// team held the answer lock the room re-arms and the clock resumes. Returns
// the kicked player's id, empty if the team was unclaimed.
func (r *Room) RemoveTeam(teamID string, now int64) (string, error) {
	t := r.TeamByIDUnsafe(teamID)
	if t == nil {
		return "", fmt.Errorf("unknown team %q", teamID)
	}
	playerID := r.TeamTaken[teamID]
	delete(r.TeamTaken, teamID)
	if playerID != "" {
		delete(r.PlayerTeams, playerID)
		r.KickedPlayers[playerID] = true
	}
	t.Name = "Team " + teamID
	t.Score = 0
	delete(r.TeamNameLocked, teamID)
	delete(r.LockedOutTeams, teamID)
	delete(r.FalseStartTeams, teamID)
	delete(r.FocusLockedTeams, teamID)

	if r.LockedByTeamID == teamID {
		r.LockedByPlayerID = ""
		r.LockedByTeamID = ""
		if r.RemainingMs > 0 {
			r.Phase = PhaseArmed
			r.TimerRunning = true
			r.TimerLastTickAt = now
		} else {
			r.expireRoundUnsafe(now)
		}
	}
	return playerID, nil
}
