package utils

import (
	"fmt"
	"time"
)

// Now is the clock used for uptimes and health timestamps. Tests swap it.
var Now = time.Now

// Since is time.Since against Now.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// FormatDuration renders uptimes and latencies at the two most useful
// units: 500ms, 1.50s, 1m30s, 2h5m, 3d4h.
func FormatDuration(d time.Duration) string {
	const day = 24 * time.Hour

	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d/time.Minute), int(d%time.Minute/time.Second))
	case d < day:
		return fmt.Sprintf("%dh%dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	default:
		return fmt.Sprintf("%dd%dh", int(d/day), int(d%day/time.Hour))
	}
}
