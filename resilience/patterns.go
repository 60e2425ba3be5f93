package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/swarmflow/swarmflow/types"
)

// patternRecord is one remembered classification occurrence.
type patternRecord struct {
	Signature string
	Severity  types.Severity
	SeenAt    time.Time
}

// patternStats accumulates per-signature learning state.
type patternStats struct {
	Frequency         int64
	LastSeen          time.Time
	Severity          types.Severity
	TotalResolutionMs int64
	Resolutions       int64
	Strategies        map[string]int64
}

// patternCache is a bounded ring of recent classifications plus a
// frequency index keyed by signature (severity:category:tier). It only
// informs similarity scoring and the Patterns view; it never gates or
// alters pipeline behavior.
type patternCache struct {
	mu    sync.Mutex
	ring  []patternRecord
	next  int
	full  bool
	stats map[string]*patternStats
}

func newPatternCache(size int) *patternCache {
	if size <= 0 {
		size = 100
	}
	return &patternCache{
		ring:  make([]patternRecord, size),
		stats: make(map[string]*patternStats),
	}
}

// record stores one classification occurrence and returns the signature's
// updated frequency.
func (c *patternCache) record(cls types.ErrorClassification, at time.Time) int64 {
	sig := cls.Signature()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring[c.next] = patternRecord{Signature: sig, Severity: cls.Severity, SeenAt: at}
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.full = true
	}

	s := c.stats[sig]
	if s == nil {
		s = &patternStats{Strategies: make(map[string]int64)}
		c.stats[sig] = s
	}
	s.Frequency++
	s.LastSeen = at
	s.Severity = cls.Severity
	return s.Frequency
}

// similarity scores how familiar a signature is, as min(occurrences/10, 1).
func (c *patternCache) similarity(signature string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats[signature]
	if s == nil {
		return 0
	}
	score := float64(s.Frequency) / 10
	if score > 1 {
		return 1
	}
	return score
}

// recordOutcome folds one recovery result into the signature's averages.
// Only successful recoveries mark their strategies as effective.
func (c *patternCache) recordOutcome(signature string, outcome types.ResilienceOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats[signature]
	if s == nil {
		s = &patternStats{Strategies: make(map[string]int64)}
		c.stats[signature] = s
	}
	s.TotalResolutionMs += outcome.DurationMs
	s.Resolutions++
	if outcome.Success {
		for _, name := range outcome.StrategiesUsed {
			s.Strategies[name]++
		}
	}
}

// patterns builds the derived view, most frequent first.
func (c *patternCache) patterns() []types.ErrorPattern {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.ErrorPattern, 0, len(c.stats))
	for sig, s := range c.stats {
		p := types.ErrorPattern{
			ID:        sig,
			Name:      sig,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Severity:  s.Severity,
		}
		if s.Resolutions > 0 {
			p.AverageResolutionTime = time.Duration(s.TotalResolutionMs/s.Resolutions) * time.Millisecond
		}
		for name := range s.Strategies {
			p.EffectiveStrategies = append(p.EffectiveStrategies, name)
		}
		sort.Strings(p.EffectiveStrategies)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ID < out[j].ID
	})
	return out
}
