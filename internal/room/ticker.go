// internal/room/ticker.go
package room

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kmrnm/ADABRA/internal/protocol"
)

// TickInterval is deliberately coarser than input latency so buzz ordering is
// never decided by a tick, yet fine enough for a smooth client countdown.
const TickInterval = 200 * time.Millisecond

// TimerService advances the clock of every running room from a single
// process-wide ticker. Remaining time is decremented by wall-clock delta, not
// tick count, so a delayed tick costs accuracy nothing.
type TimerService struct {
	reg    *Registry
	logger *logrus.Logger
}

// NewTimerService binds the ticker to a registry.
func NewTimerService(reg *Registry, logger *logrus.Logger) *TimerService {
	return &TimerService{reg: reg, logger: logger}
}

// Run ticks until ctx is cancelled.
func (ts *TimerService) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts.tick(now)
		}
	}
}

// tick advances every room whose timer is running, firing the time-up
// transition on expiry. Each room is touched under its own lock; broadcasts
// are queued onto session channels, never sent on the wire under the lock.
func (ts *TimerService) tick(now time.Time) {
	nowMs := now.UnixMilli()
	for _, r := range ts.reg.Rooms() {
		r.Mu.Lock()
		if !r.TimerRunning {
			r.Mu.Unlock()
			continue
		}
		if r.AdvanceTimer(nowMs) {
			ts.logger.WithFields(logrus.Fields{"room": r.Code, "round": r.RoundNumber}).Info("round expired")
			r.BroadcastUnsafe(protocol.ServerEvent{Event: protocol.EventTimeUp})
		}
		r.BroadcastStateUnsafe()
		r.Mu.Unlock()
	}
}
