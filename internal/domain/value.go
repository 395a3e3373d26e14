package domain

import (
	"errors"
	"math"
)

// ErrOverflow reports a balance that does not fit in an int64.
var ErrOverflow = errors.New("balance overflows int64")

func AddChecked(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func SubtractChecked(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		return 0, false
	}
	return AddChecked(a, -b)
}

// SumChecked adds values left to right and stops at the first overflow.
func SumChecked(values ...int64) (int64, bool) {
	var total int64
	for _, v := range values {
		var ok bool
		if total, ok = AddChecked(total, v); !ok {
			return 0, false
		}
	}
	return total, true
}
