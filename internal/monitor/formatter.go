package monitor

import (
	"fmt"
	"time"
)

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "Xs"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	hours := int64(d / time.Hour)
	minutes := int64(d%time.Hour) / int64(time.Minute)
	seconds := int64(d%time.Minute) / int64(time.Second)

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatIteration formats refinement progress as "n/max"
func FormatIteration(iteration, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d", iteration)
	}
	return fmt.Sprintf("%d/%d", iteration, limit)
}

// Truncate shortens s to n runes, marking the cut with an ellipsis
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// ratio clamps iteration/limit to [0, 1]
func ratio(iteration, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	r := float64(iteration) / float64(limit)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
