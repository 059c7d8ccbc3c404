package dedup

import "time"

// Stats summarizes deduplication activity.
type Stats struct {
	TotalRequests        int64         `json:"total_requests"`
	DeduplicatedRequests int64         `json:"deduplicated_requests"`
	ActiveRequests       int           `json:"active_requests"`
	CompletedRequests    int64         `json:"completed_requests"`
	FailedRequests       int64         `json:"failed_requests"`
	RejectedRequests     int64         `json:"rejected_requests"`
	TimedOutRequests     int64         `json:"timed_out_requests"`
	AverageResponseTime  time.Duration `json:"average_response_time"`
	DeduplicationRate    float64       `json:"deduplication_rate"`
}

// Stats returns a snapshot of the counters. DeduplicationRate is the
// percentage of requests that joined an existing execution.
func (d *Deduplicator) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	s := Stats{
		TotalRequests:        d.total,
		DeduplicatedRequests: d.deduplicated,
		ActiveRequests:       len(d.pending),
		CompletedRequests:    d.completed,
		FailedRequests:       d.failed,
		RejectedRequests:     d.rejected,
		TimedOutRequests:     d.timedOut,
	}
	if d.settled > 0 {
		s.AverageResponseTime = d.responseTime / time.Duration(d.settled)
	}
	if d.total > 0 {
		s.DeduplicationRate = float64(d.deduplicated) / float64(d.total) * 100
	}
	return s
}

// ResetStats zeroes the counters. Pending entries are kept.
func (d *Deduplicator) ResetStats() {
	d.mutex.Lock()
	d.total, d.deduplicated, d.completed, d.failed = 0, 0, 0, 0
	d.rejected, d.timedOut, d.settled, d.responseTime = 0, 0, 0, 0
	d.mutex.Unlock()
}
