// Package stats logs a periodic throughput heartbeat so operators running
// a long session have something to watch besides the player's own output.
// Grounded on the teacher's main.go, which wires a robfig/cron/v3 job to
// periodically refresh M3U sources in the background; here the same
// scheduling idiom drives a read-only liveness report instead of a
// mutating refresh.
package stats

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"twitch-hls-client/logger"
)

// Counters is anything that can report cumulative session counts.
// worker.Worker implements it directly; Heartbeat is built against this
// small interface so it doesn't need to import the worker package.
type Counters interface {
	SegmentsDispatched() int64
	BytesWritten() int64
}

// Heartbeat periodically logs cumulative throughput via a cron schedule.
type Heartbeat struct {
	cron *cron.Cron
	log  logger.Logger
}

// DefaultSchedule fires every 30 seconds, the same order of magnitude as
// the teacher's own background refresh cadence.
const DefaultSchedule = "@every 30s"

// New builds a heartbeat that logs counters on schedule. schedule is a
// standard cron expression or a "@every <duration>" descriptor; pass ""
// to use DefaultSchedule.
func New(log logger.Logger, schedule string, counters Counters) (*Heartbeat, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		log.Logf("heartbeat: %d segments dispatched, %d bytes written",
			counters.SegmentsDispatched(), counters.BytesWritten())
	})
	if err != nil {
		return nil, fmt.Errorf("stats: invalid schedule %q: %w", schedule, err)
	}

	return &Heartbeat{cron: c, log: log}, nil
}

// Start begins the scheduled logging in its own goroutine (cron's own
// internal scheduler loop); it returns immediately.
func (h *Heartbeat) Start() {
	h.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight log line to
// finish.
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
}
