// internal/room/ticker_test.go
package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmrnm/ADABRA/internal/protocol"
)

// drainEvents empties a session's outbound queue.
func drainEvents(s *Session) []protocol.ServerEvent {
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

func eventNames(evs []protocol.ServerEvent) []string {
	names := make([]string, 0, len(evs))
	for _, ev := range evs {
		names = append(names, ev.Event)
	}
	return names
}

func TestTickAdvancesRunningRooms(t *testing.T) {
	reg := NewRegistry(testLogger())
	ts := NewTimerService(reg, testLogger())

	r := reg.CreateRoom()
	s := NewSession("p1", false, nil)
	start := time.Now()
	r.Mu.Lock()
	r.AttachSessionUnsafe(s)
	require.NoError(t, r.StartRound(start.UnixMilli()))
	r.Mu.Unlock()
	drainEvents(s)

	ts.tick(start.Add(200 * time.Millisecond))

	r.Mu.Lock()
	assert.Equal(t, r.DurationMs-200, r.RemainingMs)
	assert.True(t, r.TimerRunning)
	r.Mu.Unlock()

	evs := drainEvents(s)
	require.Len(t, evs, 1)
	assert.Equal(t, protocol.EventRoomState, evs[0].Event)
	st := evs[0].Data.(protocol.RoomState)
	assert.Equal(t, r.DurationMs-200, st.RemainingMs)
}

func TestTickSkipsStoppedRooms(t *testing.T) {
	reg := NewRegistry(testLogger())
	ts := NewTimerService(reg, testLogger())

	r := reg.CreateRoom()
	s := NewSession("p1", false, nil)
	r.Mu.Lock()
	r.AttachSessionUnsafe(s)
	r.Mu.Unlock()

	ts.tick(time.Now())

	assert.Empty(t, drainEvents(s))
	r.Mu.Lock()
	assert.Equal(t, r.DurationMs, r.RemainingMs)
	r.Mu.Unlock()
}

func TestTickFiresTimeUp(t *testing.T) {
	reg := NewRegistry(testLogger())
	ts := NewTimerService(reg, testLogger())

	r := reg.CreateRoom()
	s := NewSession("p1", false, nil)
	start := time.Now()
	r.Mu.Lock()
	require.NoError(t, r.SetDuration(1))
	r.AttachSessionUnsafe(s)
	require.NoError(t, r.StartRound(start.UnixMilli()))
	r.Mu.Unlock()
	drainEvents(s)

	// Clock down to 1 ms, then one more tick must expire the round.
	ts.tick(start.Add(999 * time.Millisecond))
	r.Mu.Lock()
	require.Equal(t, int64(1), r.RemainingMs)
	r.Mu.Unlock()
	drainEvents(s)

	ts.tick(start.Add(1200 * time.Millisecond))

	r.Mu.Lock()
	assert.Equal(t, PhaseLobby, r.Phase)
	assert.False(t, r.TimerRunning)
	assert.Zero(t, r.RemainingMs)
	assert.NotZero(t, r.TimeUpAt)
	r.Mu.Unlock()

	names := eventNames(drainEvents(s))
	assert.Equal(t, []string{protocol.EventTimeUp, protocol.EventRoomState}, names)

	// Expired room no longer ticks.
	ts.tick(start.Add(2 * time.Second))
	assert.Empty(t, drainEvents(s))
}

func TestTimerServiceRunStopsOnCancel(t *testing.T) {
	reg := NewRegistry(testLogger())
	ts := NewTimerService(reg, testLogger())

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ts.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer service did not stop on context cancel")
	}
}
