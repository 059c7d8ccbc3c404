package optimizer

import "time"

// ProviderUsage accumulates a provider's spend. Cumulative counters only grow
// until ResetStats; DailyCost and MonthlyCost restart at each UTC day and
// month boundary.
type ProviderUsage struct {
	RequestCount     int64     `json:"request_count"`
	CumulativeCost   float64   `json:"cumulative_cost"`
	CumulativeTokens int64     `json:"cumulative_tokens"`
	ErrorCount       int64     `json:"error_count"`
	RequestsSaved    int64     `json:"requests_saved"`
	CostSaved        float64   `json:"cost_saved"`
	DailyCost        float64   `json:"daily_cost"`
	MonthlyCost      float64   `json:"monthly_cost"`
	DayStart         time.Time `json:"day_start"`
	MonthStart       time.Time `json:"month_start"`
}

// ErrorRate returns failed requests as a percentage of all requests that
// reached the provider.
func (u ProviderUsage) ErrorRate() float64 {
	total := u.RequestCount + u.ErrorCount
	if total == 0 {
		return 0
	}
	return float64(u.ErrorCount) / float64(total) * 100
}

func dayStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// spentToday returns the cost attributed to the day containing now without
// mutating the buckets.
func (u *ProviderUsage) spentToday(now time.Time) float64 {
	if u.DayStart.Equal(dayStart(now)) {
		return u.DailyCost
	}
	return 0
}

func (u *ProviderUsage) spentThisMonth(now time.Time) float64 {
	if u.MonthStart.Equal(monthStart(now)) {
		return u.MonthlyCost
	}
	return 0
}

func (u *ProviderUsage) roll(now time.Time) {
	if d := dayStart(now); !u.DayStart.Equal(d) {
		u.DayStart = d
		u.DailyCost = 0
	}
	if m := monthStart(now); !u.MonthStart.Equal(m) {
		u.MonthStart = m
		u.MonthlyCost = 0
	}
}

func (u *ProviderUsage) record(now time.Time, requests int64, cost float64, tokens int64) {
	u.roll(now)
	u.RequestCount += requests
	u.CumulativeCost += cost
	u.CumulativeTokens += tokens
	u.DailyCost += cost
	u.MonthlyCost += cost
}

// withinLimits is read-only.
func (u *ProviderUsage) withinLimits(limits ProviderLimits, now time.Time, cost float64) bool {
	if limits.MaxCostPerRequest > 0 && cost > limits.MaxCostPerRequest {
		return false
	}
	if limits.DailyCostLimit > 0 && u.spentToday(now)+cost > limits.DailyCostLimit {
		return false
	}
	if limits.MonthlyCostLimit > 0 && u.spentThisMonth(now)+cost > limits.MonthlyCostLimit {
		return false
	}
	return true
}
