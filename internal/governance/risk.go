package governance

import (
	"regexp"
	"strings"
)

type riskPattern struct {
	re    *regexp.Regexp
	score int
}

// RiskScorer assigns an advisory 0-100 score to a command or operation detail.
// It never gates execution by itself.
type RiskScorer struct {
	patterns []riskPattern
}

func NewRiskScorer() *RiskScorer {
	defs := []struct {
		expr  string
		score int
	}{
		{`rm\s+-[a-zA-Z]*r`, 100},
		{`dd\s+if=/dev/zero`, 100},
		{`\bmkfs`, 100},
		{`curl.*\|\s*(ba)?sh`, 95},
		{`wget.*\|\s*(ba)?sh`, 95},
		{`mv\s+.*/dev/null`, 90},
		{`\bsudo\b`, 80},
		{`\b(reboot|shutdown)\b`, 70},
		{`git\s+push\s+.*--force`, 70},
		{`\bchmod\b`, 60},
		{`\bchown\b`, 60},
		{`\bkill(all)?\b`, 50},
	}
	s := &RiskScorer{}
	for _, d := range defs {
		s.patterns = append(s.patterns, riskPattern{re: regexp.MustCompile("(?i)" + d.expr), score: d.score})
	}
	return s
}

// Score returns the highest matching pattern score, or 10 for any non-empty
// detail that matches nothing.
func (s *RiskScorer) Score(detail string) int {
	max := 0
	for _, p := range s.patterns {
		if p.score > max && p.re.MatchString(detail) {
			max = p.score
		}
	}
	if max == 0 && strings.TrimSpace(detail) != "" {
		max = 10
	}
	return max
}

// LevelFor turns a score into a human-readable risk band.
func LevelFor(score int) string {
	switch {
	case score >= 90:
		return "CRITICAL"
	case score >= 70:
		return "HIGH"
	case score >= 40:
		return "MEDIUM"
	case score >= 10:
		return "LOW"
	}
	return "SAFE"
}
