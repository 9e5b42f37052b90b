package engine

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ansiPattern  = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	recapPattern = regexp.MustCompile(
		`^(\S+)\s+:\s+ok=(\d+)\s+changed=(\d+)\s+unreachable=(\d+)\s+failed=(\d+)` +
			`(?:\s+skipped=(\d+))?(?:\s+rescued=(\d+))?(?:\s+ignored=(\d+))?`)
)

// recapParser collects the per-host counters printed under PLAY RECAP.
type recapParser struct {
	stats   *RunStats
	inRecap bool
	seen    bool
}

func newRecapParser() *recapParser {
	return &recapParser{stats: NewRunStats()}
}

// Feed consumes one output line.
func (p *recapParser) Feed(line string) {
	line = strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))

	if strings.HasPrefix(line, "PLAY RECAP") {
		p.inRecap = true
		p.seen = true
		return
	}
	if !p.inRecap {
		return
	}
	if line == "" {
		p.inRecap = false
		return
	}

	m := recapPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	p.stats.Record(m[1], HostStats{
		OK:          atoi(m[2]),
		Changed:     atoi(m[3]),
		Unreachable: atoi(m[4]),
		Failures:    atoi(m[5]),
		Skipped:     atoi(m[6]),
		Rescued:     atoi(m[7]),
		Ignored:     atoi(m[8]),
	})
}

// Seen reports whether a recap header was found.
func (p *recapParser) Seen() bool {
	return p.seen
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
