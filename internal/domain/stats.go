package domain

import "time"

// ExecStats are the running execution counters. Attempted counts every
// detection that reached the engine; the remaining buckets partition it.
type ExecStats struct {
	Attempted int
	Executed  int
	Failed    int
	Skipped   int // market closed/resolved, not counted as failure
	Killed    int
	Limited   int
}

// SuccessRate returns executed/attempted, 0 when nothing was attempted.
func (s ExecStats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Executed) / float64(s.Attempted)
}

// DailyStats is the per-day persisted rollup of trading activity.
type DailyStats struct {
	Date        time.Time
	Detections  int
	Orders      int
	Fills       int
	Exits       int
	WinCount    int
	LossCount   int
	GrossPnLUSD float64
	VolumeUSD   float64
}

// WinRate returns wins over closed trades, 0 with no closes.
func (d DailyStats) WinRate() float64 {
	closed := d.WinCount + d.LossCount
	if closed == 0 {
		return 0
	}
	return float64(d.WinCount) / float64(closed)
}
