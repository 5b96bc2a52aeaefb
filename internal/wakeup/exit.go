package wakeup

import (
	"log/slog"
	"os"
	"time"
)

// exitGrace is how long a finished wakeup process gets to unwind before
// the unconditional hard exit fires.
const exitGrace = 2 * time.Second

// ScheduleHardExit arms the second phase of the two-phase exit: after
// the grace period the process exits unconditionally, so native store
// destructors blocked on fsync cannot keep a finished wakeup alive.
// Call it right before the normal return path.
func ScheduleHardExit(code int, logger *slog.Logger) {
	time.AfterFunc(exitGrace, func() {
		logger.Warn("graceful exit overdue, hard-exiting", "code", code)
		os.Exit(code)
	})
}
