package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/doc-reviewer/internal/ai"
	"github.com/spigell/doc-reviewer/internal/utils"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// MaxDelay caps a single backoff wait.
const MaxDelay = 10 * time.Minute

// ErrExhausted is matched by errors returned after every attempt was rate limited.
var ErrExhausted = errors.New("rate limit retries exhausted")

// ExhaustedError carries the attempt count and the last rate limited failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy configures retries. Zero values fall back to the defaults.
type Policy struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
}

// Delay returns the wait before the attempt following attempt i (zero based),
// capped at MaxDelay.
func (p Policy) Delay(i int) time.Duration {
	d := p.withDefaults().BaseDelay
	for ; i > 0; i-- {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d <<= 1
	}
	return min(d, MaxDelay)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Retrier runs calls under a Policy, retrying only rate limited failures.
type Retrier struct {
	policy     Policy
	classifier ai.Classifier
	logger     *zap.Logger

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func New(policy Policy, classifier ai.Classifier, logger *zap.Logger) *Retrier {
	if classifier == nil {
		classifier = ai.ClassifierFunc(ai.ClassifyMessage)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retrier{
		policy:     policy.withDefaults(),
		classifier: classifier,
		logger:     logger,
		wait:       utils.WaitFor,
	}
}

func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do invokes call until it succeeds, fails with a non rate limited error or
// runs out of attempts. Non rate limited failures come back as *ai.Error.
func (r *Retrier) Do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	var last error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := call(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("backend call succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return out, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", ctxErr, err)
		}

		kind := r.classifier.Classify(err)
		if kind != ai.KindRateLimited {
			r.logger.Warn("backend call failed",
				zap.Int("attempt", attempt+1),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			return "", &ai.Error{Kind: kind, Err: err}
		}

		last = err
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := r.policy.Delay(attempt)
		r.logger.Warn("backend rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
		)

		if err := r.wait(ctx, delay); err != nil {
			return "", err
		}
	}

	r.logger.Warn("backend rate limit retries exhausted", zap.Int("attempts", r.policy.MaxAttempts))

	return "", &ExhaustedError{Attempts: r.policy.MaxAttempts, Last: last}
}
