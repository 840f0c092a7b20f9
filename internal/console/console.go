// Package console is a minimal admin/status surface: a read-only
// snapshot of gateway and game-server occupancy, logged periodically.
// An interactive terminal console has no analog in a headless service
// meant to run under a process supervisor, so this reports through the
// structured logger instead.
package console

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Report is one read-only status snapshot.
type Report struct {
	Uptime              time.Duration
	GWSessions          int
	GWRegisteredServers int
	GSAuthenticated     int
	GSFragmentBuffers   int
}

// Status tracks process uptime and logs periodic status reports.
type Status struct {
	startedAt time.Time
	log       *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Status {
	return &Status{startedAt: time.Now(), log: log}
}

// Uptime reports whole seconds elapsed since Status was created.
func (s *Status) Uptime() float64 {
	return math.Floor(time.Since(s.startedAt).Seconds())
}

// Log emits one status report at info level.
func (s *Status) Log(r Report) {
	s.log.Infow("status",
		"uptime_s", s.Uptime(),
		"gw_sessions", r.GWSessions,
		"gw_registered_servers", r.GWRegisteredServers,
		"gs_authenticated", r.GSAuthenticated,
		"gs_fragment_buffers", r.GSFragmentBuffers,
	)
}
