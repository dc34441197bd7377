package report

import "time"

// ProgressTracker decides when a running job persists its progress. An update
// is due every `every` processed lines or once `interval` has passed since the
// last update, whichever comes first.
type ProgressTracker struct {
	started    time.Time
	lastUpdate time.Time
	now        func() time.Time
	interval   time.Duration
	every      int
	total      int
}

// NewProgressTracker starts tracking a job with total lines.
func NewProgressTracker(total, every int, interval time.Duration, now func() time.Time) *ProgressTracker {
	if now == nil {
		now = time.Now
	}
	if every <= 0 {
		every = DefaultProgressEveryLines
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	started := now()
	return &ProgressTracker{
		started:    started,
		lastUpdate: started,
		now:        now,
		interval:   interval,
		every:      every,
		total:      total,
	}
}

// Due reports whether progress should be persisted after processed lines.
func (p *ProgressTracker) Due(processed int) bool {
	if processed <= 0 {
		return false
	}
	if processed%p.every == 0 {
		return true
	}
	return p.now().Sub(p.lastUpdate) >= p.interval
}

// Mark records that progress was just persisted.
func (p *ProgressTracker) Mark() {
	p.lastUpdate = p.now()
}

// EstimatedCompletion extrapolates the average time per processed line over
// the remaining lines. It returns nil before the first line and after the last.
func (p *ProgressTracker) EstimatedCompletion(processed int) *time.Time {
	if processed <= 0 || processed >= p.total {
		return nil
	}
	now := p.now()
	perLine := now.Sub(p.started) / time.Duration(processed)
	eta := now.Add(perLine * time.Duration(p.total-processed))
	return &eta
}
