package pattern

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrBadClock = errors.New("clock value must look like [±]H[H]:MM:SS[.frac]")

// ParseClock converts "[±]H[H]:MM:SS[.frac]" into seconds. Hours and
// minutes are integers, seconds may carry a fraction, and a leading sign
// applies to the whole value.
func ParseClock(s string) (float64, error) {
	sign := 1.0
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	hh, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, ErrBadClock
	}
	mm, ss, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, ErrBadClock
	}
	if len(hh) < 1 || len(hh) > 2 || len(mm) != 2 || len(ss) < 2 {
		return 0, ErrBadClock
	}
	if !digits(hh) || !digits(mm) || !digits(ss[:2]) {
		return 0, ErrBadClock
	}
	if len(ss) > 2 && (ss[2] != '.' || !digits(ss[3:])) {
		return 0, ErrBadClock
	}

	hours, _ := strconv.Atoi(hh)
	minutes, _ := strconv.Atoi(mm)
	seconds, err := strconv.ParseFloat(ss, 64)
	if err != nil {
		return 0, ErrBadClock
	}
	return sign * (float64(hours)*3600 + float64(minutes)*60 + seconds), nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
