// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"time"
)

// SecsToDuration converts a number of seconds (which may be fractional) to
// a time.Duration, rounding to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs*1e9 + copysignHalf(secs))
}

func copysignHalf(f float64) float64 {
	if f < 0 {
		return -0.5
	}
	return 0.5
}

// FormatSeconds formats a number of seconds the shortest way that round trips,
// e.g. 1.5 => "1.5", 5 => "5"
func FormatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]byte, 0, 2*len(is))
	for i, v := range is {
		if i > 0 {
			s = append(s, ',')
		}
		s = strconv.AppendInt(s, int64(v), 10)
	}
	return string(s)
}
