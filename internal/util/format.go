package util

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatNumber abbreviates large counts (1.5K, 2.0M).
func FormatNumber(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	} else if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatRate renders count/period as a per-second rate with one decimal.
func FormatRate(count int, period time.Duration) string {
	if period <= 0 {
		return "0.0/s"
	}
	return fmt.Sprintf("%.1f/s", float64(count)/period.Seconds())
}

// FormatBytes renders a byte count in IEC units (10 KiB).
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatSeconds renders a retention window given in seconds; zero or less
// means unbounded.
func FormatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "unbounded"
	}
	return (time.Duration(seconds * float64(time.Second))).String()
}

// FormatFloat renders a float without trailing zeros.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
