package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParsePeriod 解析 "30d"、"6m"（按 30 天）、"1y"（按 365 天）形式的回看区间。
func ParsePeriod(period string) (time.Duration, error) {
	p := strings.TrimSpace(strings.ToLower(period))
	if len(p) < 2 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	n, err := strconv.Atoi(p[:len(p)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	var unit time.Duration
	switch p[len(p)-1] {
	case 'd':
		unit = day
	case 'm':
		unit = 30 * day
	case 'y':
		unit = 365 * day
	default:
		return 0, fmt.Errorf("invalid period unit in %q", period)
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("period %q out of range", period)
	}
	return time.Duration(n) * unit, nil
}
