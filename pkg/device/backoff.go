package device

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
)

// Firmware load retry defaults.
const (
	InitialBackoff    = 50 * time.Millisecond
	MaxBackoff        = 2 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig spaces firmware load attempts: the n-th retry waits
// Initial * Multiplier^(n-1), capped at Max, plus up to Jitter of that.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the bring-up backoff defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier < 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	return c
}

// Base returns the un-jittered delay before retry n (1-based).
func (c BackoffConfig) Base(n int) time.Duration {
	c = c.normalized()
	d := c.Initial
	for i := 1; i < n && d < c.Max; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	return min(d, c.Max)
}

// Delay returns the delay before retry n. rnd yields values in [0, 1);
// nil means math/rand/v2.
func (c BackoffConfig) Delay(n int, rnd func() float64) time.Duration {
	c = c.normalized()
	d := c.Base(n)
	if c.Jitter == 0 {
		return d
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return d + time.Duration(float64(d)*c.Jitter*rnd())
}

// loadAttempt is one firmware download outcome, reported to the retry
// observer.
type loadAttempt struct {
	n     int
	err   error
	delay time.Duration
}

// loadFirmware runs load up to attempts times. Between failures it sleeps
// through sleep, which returns early with an error on teardown or ctx
// cancellation. A load interrupted by ctx is not retried.
func loadFirmware(ctx context.Context, attempts int, cfg BackoffConfig,
	load func(context.Context) error,
	sleep func(context.Context, time.Duration) error,
	observe func(loadAttempt),
) error {
	attempts = max(attempts, 1)
	var err error
	for n := 1; n <= attempts; n++ {
		if err = load(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fwerr.Wrap("load firmware", fwerr.ErrCancelled, ctx.Err())
		}
		a := loadAttempt{n: n, err: err}
		if n < attempts {
			a.delay = cfg.Delay(n, nil)
		}
		observe(a)
		if n == attempts {
			break
		}
		if serr := sleep(ctx, a.delay); serr != nil && !errors.Is(serr, fwerr.ErrTimeout) {
			return serr
		}
	}
	return fwerr.Wrap("load firmware", fwerr.ErrNotReady, err)
}
