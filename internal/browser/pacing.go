package browser

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/talentscout/internal/common"
)

// Pacing injects humanized delays between driver interactions. Think is the
// inter-action pause; Keystroke is the per-character delay used when typing
// into inputs.
type Pacing interface {
	Think(ctx context.Context) error
	Keystroke() time.Duration
}

// NewPacing builds a pacing policy from config. The volume func reports the
// current record count so delays can be stretched once a run gets large;
// it may be nil.
func NewPacing(cfg common.PacingConfig, volume func() int) Pacing {
	if cfg.Disabled {
		return NoPacing{}
	}

	p := &humanPacing{
		thinkMin:          parseOr(cfg.ThinkMin, 5*time.Second),
		thinkMax:          parseOr(cfg.ThinkMax, 10*time.Second),
		keystrokeMin:      parseOr(cfg.KeystrokeMin, 100*time.Millisecond),
		keystrokeMax:      parseOr(cfg.KeystrokeMax, 300*time.Millisecond),
		slowdownThreshold: cfg.SlowdownThreshold,
		volume:            volume,
	}
	if p.thinkMax < p.thinkMin {
		p.thinkMax = p.thinkMin
	}
	if p.keystrokeMax < p.keystrokeMin {
		p.keystrokeMax = p.keystrokeMin
	}
	return p
}

type humanPacing struct {
	thinkMin, thinkMax         time.Duration
	keystrokeMin, keystrokeMax time.Duration
	slowdownThreshold          int
	volume                     func() int
}

func (p *humanPacing) Think(ctx context.Context) error {
	delay := uniform(p.thinkMin, p.thinkMax)

	// Slow down once the store passes the volume threshold
	if p.volume != nil && p.slowdownThreshold > 0 && p.volume() > p.slowdownThreshold {
		delay = delay * 3 / 2
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *humanPacing) Keystroke() time.Duration {
	return uniform(p.keystrokeMin, p.keystrokeMax)
}

// NoPacing disables all delays. Used by tests and dry runs.
type NoPacing struct{}

func (NoPacing) Think(ctx context.Context) error { return ctx.Err() }
func (NoPacing) Keystroke() time.Duration        { return 0 }

func uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func parseOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
