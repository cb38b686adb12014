package places

import (
	"context"
	"errors"

	"github.com/rewired-gh/crowdpulse/internal/logger"
)

// Fallback serves the demo panel whenever the primary source is unavailable.
// Context cancellation is passed through untouched.
type Fallback struct {
	Primary Source
	Backup  Source
}

// NewFallback wraps primary with the demo panel.
func NewFallback(primary Source) *Fallback {
	return &Fallback{Primary: primary, Backup: Demo{}}
}

// Fetch tries the primary source first.
func (f *Fallback) Fetch(ctx context.Context, req Request) (Batch, error) {
	if f.Primary != nil {
		batch, err := f.Primary.Fetch(ctx, req)
		if err == nil {
			return batch, nil
		}
		if ctx.Err() != nil || !errors.Is(err, ErrSourceUnavailable) {
			return batch, err
		}
		logger.Warn("%v, switched to demo panel", err)
	}

	batch, err := f.Backup.Fetch(ctx, req)
	if err != nil {
		return batch, err
	}
	batch.Fallback = true
	return batch, nil
}
