package resumable

import (
	"sync"
)

// Progress is the session's ledger of bytes the server has confirmed.
// It never regresses and never exceeds the declared total.
type Progress struct {
	confirmed int64
	total     int64
	onAdvance func(delta, confirmed, total int64)
	mu        sync.Mutex
}

func newProgress(total int64, onAdvance func(delta, confirmed, total int64)) *Progress {
	return &Progress{
		total:     total,
		onAdvance: onAdvance,
	}
}

// Confirmed returns the highest byte count the server has reported as received.
func (p *Progress) Confirmed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmed
}

// Total returns the declared payload size.
func (p *Progress) Total() int64 {
	return p.total
}

// Remaining returns the number of bytes the server still needs.
func (p *Progress) Remaining() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total - p.confirmed
}

// set records a server report. Reports above the total are clamped, reports below the
// current value are ignored. It returns false for an ignored regression.
func (p *Progress) set(confirmed int64) bool {
	if confirmed > p.total {
		confirmed = p.total
	}

	p.mu.Lock()
	previous := p.confirmed
	if confirmed < previous {
		p.mu.Unlock()
		return false
	}
	p.confirmed = confirmed
	p.mu.Unlock()

	if p.onAdvance != nil && confirmed > previous {
		p.onAdvance(confirmed-previous, confirmed, p.total)
	}

	return true
}
