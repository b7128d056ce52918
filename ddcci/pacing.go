package ddcci

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mandated inter-operation delays, scaled by a per-display sleep
// multiplier before use.
const (
	DelayPostWrite               = 50 * time.Millisecond
	DelayWriteBeforeRead         = 40 * time.Millisecond
	DelayPostRead                = 50 * time.Millisecond
	DelayBetweenCapsFragments    = 50 * time.Millisecond
	DelayPostSet                 = 50 * time.Millisecond
	DelayPostSaveCurrentSettings = 200 * time.Millisecond
)

// maxBackoff caps how far the dynamic back-off counter can stretch the
// mandated delays on a bus that keeps failing.
const maxBackoff = 8

// Pacer enforces inter-operation pacing for a single I2C bus: a base
// token-bucket rate limiter plus a dynamic back-off counter that stretches
// on repeated failure and relaxes on success.
//
// One Pacer belongs to one Engine. The retry loop takes no per-bus lock of
// its own (sysfs.Bus serializes each individual read, write and ioctl), and
// Pacer guards only its own counters.
type Pacer struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	multiplier float64
	backoff    int
}

// NewPacer builds a Pacer whose base rate allows one operation per
// baseDelay, bursting up to 1. sleepMultiplier scales every mandated delay
// for this display (raised for flaky hardware, 1.0 for normal operation).
func NewPacer(baseDelay time.Duration, sleepMultiplier float64) *Pacer {
	if sleepMultiplier <= 0 {
		sleepMultiplier = 1
	}
	return &Pacer{
		limiter:    rate.NewLimiter(rate.Every(baseDelay), 1),
		multiplier: sleepMultiplier,
		backoff:    1,
	}
}

// Wait blocks until the base limiter admits the next operation.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// scaled returns d scaled by the sleep multiplier and the current
// back-off factor.
func (p *Pacer) scaled(d time.Duration) time.Duration {
	p.mu.Lock()
	factor := p.multiplier * float64(p.backoff)
	p.mu.Unlock()
	return time.Duration(float64(d) * factor)
}

// Sleep scales d by the sleep multiplier and back-off factor, then blocks
// for the result or until ctx is done.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(p.scaled(d))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryDelay returns the sleep to observe before retry attempt n (1-based):
// the post-read delay scaled by the attempt number, the multiplier, and
// the back-off factor.
func (p *Pacer) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.scaled(DelayPostRead) * time.Duration(attempt)
}

// OnFailure grows the back-off factor, capped at maxBackoff.
func (p *Pacer) OnFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backoff < maxBackoff {
		p.backoff++
	}
}

// OnSuccess relaxes the back-off factor one step toward 1.
func (p *Pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backoff > 1 {
		p.backoff--
	}
}

// Backoff reports the current back-off factor, for tests and diagnostics.
func (p *Pacer) Backoff() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoff
}
