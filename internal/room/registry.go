// internal/room/registry.go
package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	reapInterval = 60 * time.Second
	maxIdle      = 30 * time.Minute
	emptyGrace   = 2 * time.Minute
)

// Registry is the process-wide map from room code to live room. It hands out
// room handles; all room state mutation happens under the room's own lock,
// the registry lock only covers insert, lookup and delete.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger *logrus.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// CreateRoom builds a room under a fresh code, rejection-sampling codes until
// one is unused.
func (reg *Registry) CreateRoom() *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := newRoomCode()
	for _, exists := reg.rooms[code]; exists; _, exists = reg.rooms[code] {
		code = newRoomCode()
	}
	r := New(code, newHostKey(), time.Now().UnixMilli())
	reg.rooms[code] = r
	reg.logger.WithFields(logrus.Fields{"room": code, "rooms": len(reg.rooms)}).Info("room created")
	return r
}

// GetRoom looks a room up by code, case-insensitively.
func (reg *Registry) GetRoom(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Rooms returns a snapshot slice of all live rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Count reports the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// RunReaper garbage-collects idle rooms until ctx is cancelled.
func (reg *Registry) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.reap(time.Now())
		}
	}
}

// reap deletes every room idle for more than maxIdle, or empty and idle for
// more than emptyGrace. The cheap first look runs without the registry lock;
// candidates are revalidated in tryReap. Idempotent: a reaped room is simply
// gone on the next pass.
func (reg *Registry) reap(now time.Time) int {
	nowMs := now.UnixMilli()
	reaped := 0
	for _, r := range reg.Rooms() {
		r.Mu.Lock()
		expired := r.reapableUnsafe(nowMs)
		r.Mu.Unlock()
		if !expired {
			continue
		}
		if reg.tryReap(r, nowMs) {
			reaped++
		}
	}
	return reaped
}

// reapableUnsafe reports whether the room has outlived its idle allowance.
func (r *Room) reapableUnsafe(nowMs int64) bool {
	idle := time.Duration(nowMs-r.LastActivityAt) * time.Millisecond
	if idle > maxIdle {
		return true
	}
	return r.MembersCountUnsafe() == 0 && idle > emptyGrace
}

// tryReap deletes r if it is still reapable with both locks held. A join
// that lands between the sweep's first look and this point touches the room
// under its lock, so the recheck sees it and refuses the delete; without the
// recheck such a session would attach to a room no longer in the registry.
// Deletion detaches and cancels every attached session.
func (reg *Registry) tryReap(r *Room, nowMs int64) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if _, live := reg.rooms[r.Code]; !live {
		return false
	}
	if !r.reapableUnsafe(nowMs) {
		return false
	}

	delete(reg.rooms, r.Code)
	for _, s := range r.SessionsUnsafe() {
		r.DetachSessionUnsafe(s)
		if s.Cancel != nil {
			s.Cancel()
		}
	}
	reg.logger.WithFields(logrus.Fields{
		"room":  r.Code,
		"idle":  time.Duration(nowMs-r.LastActivityAt) * time.Millisecond,
		"rooms": len(reg.rooms),
	}).Info("room reaped")
	return true
}
