package engine

import (
	"regexp"
	"strconv"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// progressTracker turns ffmpeg log lines into completion fractions. The total
// comes from the first input's Duration line, capped by a -t limit in the args.
type progressTracker struct {
	limit float64
	total float64
	last  float64
}

func newProgressTracker(args []string) *progressTracker {
	p := &progressTracker{}
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-t" {
			continue
		}
		if v, err := strconv.ParseFloat(args[i+1], 64); err == nil && v > 0 {
			p.limit = v
		}
	}
	return p
}

// Update consumes one line and reports a new fraction when the line carried
// one. Reported fractions never decrease.
func (p *progressTracker) Update(line string) (float64, bool) {
	if p.total == 0 {
		if m := durationPattern.FindStringSubmatch(line); m != nil {
			p.total = clockSeconds(m[1], m[2], m[3])
			if p.limit > 0 && (p.total == 0 || p.limit < p.total) {
				p.total = p.limit
			}
			return 0, false
		}
	}

	m := timePattern.FindStringSubmatch(line)
	if m == nil || p.total <= 0 {
		return 0, false
	}

	f := clampFraction(clockSeconds(m[1], m[2], m[3]) / p.total)
	if f < p.last {
		f = p.last
	}
	p.last = f
	return f, true
}

// clockSeconds converts hh, mm, ss(.frac) components to seconds.
func clockSeconds(h, m, s string) float64 {
	hours, _ := strconv.ParseFloat(h, 64)
	minutes, _ := strconv.ParseFloat(m, 64)
	seconds, _ := strconv.ParseFloat(s, 64)
	return hours*3600 + minutes*60 + seconds
}
