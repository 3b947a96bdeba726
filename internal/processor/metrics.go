package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics keeps in-process counters for the periodic stats log line.
// Prometheus carries the same signals for scraping.
type ServiceMetrics struct {
	totalProcessed    int64
	totalFailed       int64
	totalDeadLettered int64
	totalOutcomes     int64
	totalDurationNs   int64
	lastResetNs       int64
}

type Stats struct {
	Processed    int64
	Failed       int64
	DeadLettered int64
	Outcomes     int64
	RatePerSec   float64
	AvgDuration  time.Duration
	Uptime       time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration, outcomes int) {
	atomic.AddInt64(&m.totalProcessed, 1)
	atomic.AddInt64(&m.totalOutcomes, int64(outcomes))
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	atomic.AddInt64(&m.totalFailed, 1)
}

func (m *ServiceMetrics) RecordDeadLetter() {
	atomic.AddInt64(&m.totalDeadLettered, 1)
}

func (m *ServiceMetrics) GetStats() Stats {
	processed := atomic.LoadInt64(&m.totalProcessed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	uptime := time.Since(time.Unix(0, atomic.LoadInt64(&m.lastResetNs)))

	s := Stats{
		Processed:    processed,
		Failed:       atomic.LoadInt64(&m.totalFailed),
		DeadLettered: atomic.LoadInt64(&m.totalDeadLettered),
		Outcomes:     atomic.LoadInt64(&m.totalOutcomes),
		Uptime:       uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RatePerSec = float64(processed) / secs
	}
	if processed > 0 {
		s.AvgDuration = time.Duration(durationNs / processed)
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.totalProcessed, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDeadLettered, 0)
	atomic.StoreInt64(&m.totalOutcomes, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
