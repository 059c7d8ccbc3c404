package recovery

import (
	"time"

	"github.com/hallucifix/go-resilience/apierror"
)

// KindStats summarizes attempts for one error kind.
type KindStats struct {
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats summarizes the attempt history.
type Stats struct {
	TotalAttempts       int                         `json:"total_attempts"`
	SuccessfulAttempts  int                         `json:"successful_attempts"`
	SuccessRate         float64                     `json:"success_rate"`
	AverageRecoveryTime time.Duration               `json:"average_recovery_time"`
	ByKind              map[apierror.Kind]KindStats `json:"by_kind"`
	Rejected            map[string]int64            `json:"rejected"`
}

// Stats computes statistics over the bounded history. Rejected counts
// recoveries refused by the concurrency cap or the global cooldown.
func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s := Stats{
		ByKind:   make(map[apierror.Kind]KindStats),
		Rejected: make(map[string]int64, len(m.rejected)),
	}
	for reason, n := range m.rejected {
		s.Rejected[reason] = n
	}
	var total time.Duration
	for _, rec := range m.history {
		s.TotalAttempts++
		total += rec.Duration
		ks := s.ByKind[rec.Kind]
		ks.Attempts++
		if rec.Success {
			s.SuccessfulAttempts++
			ks.Successes++
		}
		s.ByKind[rec.Kind] = ks
	}
	if s.TotalAttempts > 0 {
		s.SuccessRate = percent(s.SuccessfulAttempts, s.TotalAttempts)
		s.AverageRecoveryTime = total / time.Duration(s.TotalAttempts)
	}
	for kind, ks := range s.ByKind {
		ks.SuccessRate = percent(ks.Successes, ks.Attempts)
		s.ByKind[kind] = ks
	}
	return s
}

// SuccessRate returns the percentage of successful attempts for kind, or 0
// when there are none.
func (m *Manager) SuccessRate(kind apierror.Kind) float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var attempts, successes int
	for _, rec := range m.history {
		if rec.Kind != kind {
			continue
		}
		attempts++
		if rec.Success {
			successes++
		}
	}
	return percent(successes, attempts)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
