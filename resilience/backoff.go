package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig describes an exponential backoff curve.
type BackoffConfig struct {
	// Initial is the first delay.
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	// Max caps every delay, jitter included.
	Max time.Duration `yaml:"max" mapstructure:"max"`
	// Factor is the multiplier applied per attempt.
	Factor float64 `yaml:"factor" mapstructure:"factor"`
	// Jitter spreads each delay by +/- Jitter*delay (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
}

// DefaultBackoffConfig returns a 1s to 30s curve doubling per attempt.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2.0,
		Jitter:  0.2,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultBackoffConfig.
func (c *BackoffConfig) ApplyDefaults() {
	d := DefaultBackoffConfig()
	if c.Initial <= 0 {
		c.Initial = d.Initial
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Factor <= 0 {
		c.Factor = d.Factor
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
}

// Validate checks the curve is usable.
func (c *BackoffConfig) Validate() error {
	if c.Max < c.Initial {
		return fmt.Errorf("backoff.max (%s) must be >= backoff.initial (%s)", c.Max, c.Initial)
	}
	if c.Factor < 1 {
		return fmt.Errorf("backoff.factor must be >= 1 (got %v)", c.Factor)
	}
	if c.Jitter > 1 {
		return fmt.Errorf("backoff.jitter must be between 0 and 1 (got %v)", c.Jitter)
	}
	return nil
}

// Delay returns the delay for the given 1-based attempt.
func (c BackoffConfig) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.Initial) * math.Pow(c.Factor, float64(attempt-1))

	if c.Jitter > 0 && rnd != nil {
		d += (rnd()*2 - 1) * d * c.Jitter
	}
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	if d <= 0 {
		d = float64(c.Initial)
	}
	return time.Duration(d)
}

// Backoff tracks consecutive failures of one loop.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	attempts int
	rnd      *rand.Rand
}

// NewBackoff creates a Backoff from cfg, applying defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg.ApplyDefaults()
	return &Backoff{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records a failure and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	return b.cfg.Delay(b.attempts, b.rnd.Float64)
}

// Reset clears the failure count after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts returns the number of consecutive failures recorded.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
