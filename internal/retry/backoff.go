package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"outbox/internal/models"
)

// CalculateDelay returns the backoff delay to wait before the attempt that
// follows retryCount prior failures: min(initial * multiplier^retryCount, max),
// scaled by a uniform jitter factor in [0.75, 1.25] so many queued messages do
// not retry in lockstep.
func CalculateDelay(retryCount int, cfg models.RetryConfig) time.Duration {
	return CalculateDelayWithRand(retryCount, cfg, secureFloat64)
}

// CalculateDelayWithRand is CalculateDelay with an injectable random source;
// randFloat must return values in [0, 1).
func CalculateDelayWithRand(retryCount int, cfg models.RetryConfig, randFloat func() float64) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(cfg.InitialDelayMs) * math.Pow(cfg.BackoffMultiplier, float64(retryCount))
	if capped := float64(cfg.MaxDelayMs); delay > capped {
		delay = capped
	}

	jitter := 0.75 + randFloat()*0.5
	return time.Duration(delay*jitter) * time.Millisecond
}

// BackoffConfig contains configuration for the Backoff runner.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initialDelay"`
	MaxDelay     time.Duration `json:"maxDelay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"maxAttempts"`
}

// Backoff executes operations with exponential backoff between attempts. It is
// used for infrastructure-level retries (database init, reconnects); the queue
// itself schedules message retries through CalculateDelay.
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry executes the operation until it succeeds, the attempt budget is
// exhausted, or the context is cancelled.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.NextDelay(attempt)):
		}
	}

	return lastErr
}

// NextDelay returns the delay used after the given attempt (1-based).
func (b *Backoff) NextDelay(attempt int) time.Duration {
	cfg := models.RetryConfig{
		MaxRetries:        b.config.MaxAttempts,
		InitialDelayMs:    int(b.config.InitialDelay / time.Millisecond),
		MaxDelayMs:        int(b.config.MaxDelay / time.Millisecond),
		BackoffMultiplier: b.config.Multiplier,
	}
	return CalculateDelay(attempt-1, cfg)
}

// secureFloat64 generates a cryptographically secure float64 in [0, 1).
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand failing is essentially fatal elsewhere; fall back to a
		// time-derived value rather than panic in a jitter helper.
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
