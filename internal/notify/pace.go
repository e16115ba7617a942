package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces out bot API calls: burst calls at once, then one per
// interval. A nil pacer never waits.
type pacer struct {
	lim *rate.Limiter
}

func newPacer(burst int, interval time.Duration) *pacer {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &pacer{lim: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until the next call may go out or ctx is done.
func (p *pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.lim.Wait(ctx)
}
