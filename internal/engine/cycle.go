package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/yoshihiko555/takt/internal/core"
)

// CycleDetector watches review/fix oscillations. It keeps a bounded window
// of recent (review fingerprint, fix fingerprint) pairs; seeing a pair
// again inside the window means the two movements are ping-ponging without
// progress. The window is per piece run.
type CycleDetector struct {
	fixRe  *regexp.Regexp
	window int
	recent []string
}

// NewCycleDetector creates a detector. pattern matches fix-movement names.
func NewCycleDetector(pattern string, window int) (*CycleDetector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, core.ErrValidation("CYCLE_PATTERN",
			"invalid fix movement pattern").WithCause(err)
	}
	if window < 1 {
		window = 3
	}
	return &CycleDetector{fixRe: re, window: window}, nil
}

// IsFixMovement reports whether a movement participates in cycle detection.
func (d *CycleDetector) IsFixMovement(name string) bool {
	return d.fixRe.MatchString(name)
}

// Observe records the (review, fix) response pair and reports whether it
// repeats within the window.
func (d *CycleDetector) Observe(review, fix *core.Response) bool {
	if review == nil || fix == nil {
		return false
	}
	key := fingerprint(review.Content) + ":" + fingerprint(fix.Content)
	for _, seen := range d.recent {
		if seen == key {
			return true
		}
	}
	d.recent = append(d.recent, key)
	if len(d.recent) > d.window {
		d.recent = d.recent[1:]
	}
	return false
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// fingerprint is a stable hash over whitespace-normalized content, so
// cosmetic reformatting does not hide an oscillation.
func fingerprint(content string) string {
	normalized := whitespaceRe.ReplaceAllString(strings.TrimSpace(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
