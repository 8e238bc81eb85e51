package workerpool

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of pool activity
type Stats struct {
	ActiveWorkers  int
	QueuedTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
	AvgDuration    time.Duration
}

type statsCollector struct {
	activeWorkers  atomic.Int64
	completedTasks atomic.Uint64
	failedTasks    atomic.Uint64
	rejectedTasks  atomic.Uint64
	totalDuration  atomic.Int64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

func (s *statsCollector) incActiveWorkers() { s.activeWorkers.Add(1) }
func (s *statsCollector) decActiveWorkers() { s.activeWorkers.Add(-1) }
func (s *statsCollector) recordTaskRejection() { s.rejectedTasks.Add(1) }

func (s *statsCollector) recordTaskCompletion(d time.Duration, failed bool) {
	s.completedTasks.Add(1)
	s.totalDuration.Add(int64(d))
	if failed {
		s.failedTasks.Add(1)
	}
}

func (s *statsCollector) snapshot(queued int) Stats {
	completed := s.completedTasks.Load()
	st := Stats{
		ActiveWorkers:  int(s.activeWorkers.Load()),
		QueuedTasks:    queued,
		CompletedTasks: completed,
		FailedTasks:    s.failedTasks.Load(),
		RejectedTasks:  s.rejectedTasks.Load(),
	}
	if completed > 0 {
		st.AvgDuration = time.Duration(s.totalDuration.Load() / int64(completed))
	}
	return st
}
