// Package errorhandler implements finger's Error Handler (spec §4.C):
// error classification into a category/severity taxonomy, exponential
// backoff retry scheduling, and a pausable retry loop with an onRetry
// observation hook.
//
// The retry-scheduling shape is grounded on the teacher's
// orchestrator/scheduler/scheduler.go (Scheduler.RetryTask: a
// retry-count table keyed by task, a RetryLimit check, a delayed
// re-enqueue via a spawned goroutine that sleeps then re-submits).
// Generalized here from RetryTask's fixed RetryDelay to the spec's
// exponential backoff, and from a task-specific counter to a reusable,
// caller-supplied classifier and retry driver.
package errorhandler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
)

// ErrRetriesExhausted is returned once MaxRetries attempts have all failed.
var ErrRetriesExhausted = errors.New("errorhandler: retries exhausted")

// Category classifies the nature of a failure.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTransient
	CategoryRateLimited
	CategoryPermanent
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Severity ranks how urgently a failure needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classification is the result of classifying an error.
type Classification struct {
	Category Category
	Severity Severity
}

// Classifier maps an error to a Classification. DefaultClassifier is used
// when the caller does not supply one.
type Classifier func(err error) Classification

// DefaultClassifier treats every error as transient/medium, the safe
// default for errors of unknown provenance: they are retried, but not
// treated as an emergency.
func DefaultClassifier(err error) Classification {
	return Classification{Category: CategoryTransient, Severity: SeverityMedium}
}

// Config controls the exponential backoff schedule.
type Config struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// RetryHook is invoked before each retry sleep, for logging/metrics.
type RetryHook func(attempt int, delay time.Duration, err error, class Classification)

// Handler drives classification-aware retries with exponential backoff.
// It is safe for concurrent use.
type Handler struct {
	cfg       Config
	classify  Classifier
	log       *logger.Logger
	mu        sync.Mutex
	paused    bool
	resumeCh  chan struct{}
	onRetry   RetryHook
}

// New constructs a Handler. A zero Classifier defaults to
// DefaultClassifier.
func New(cfg Config, classify Classifier, log *logger.Logger) *Handler {
	if classify == nil {
		classify = DefaultClassifier
	}
	if log == nil {
		log = logger.Default()
	}
	return &Handler{cfg: cfg, classify: classify, log: log, resumeCh: make(chan struct{})}
}

// SetOnRetry installs a hook invoked immediately before each retry's sleep.
func (h *Handler) SetOnRetry(hook RetryHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = hook
}

// Pause suspends any in-flight or future backoff sleep until Resume is
// called.
func (h *Handler) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
}

// Resume releases any goroutines blocked in a paused backoff sleep.
func (h *Handler) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return
	}
	h.paused = false
	close(h.resumeCh)
	h.resumeCh = make(chan struct{})
}

// IsPaused reports the current pause state.
func (h *Handler) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Classify classifies err using the handler's configured Classifier.
func (h *Handler) Classify(err error) Classification {
	return h.classify(err)
}

// Backoff returns the delay before the given attempt number (0-indexed:
// attempt 0 is the delay before the first retry), clamped to MaxDelay.
func (h *Handler) Backoff(attempt int) time.Duration {
	delay := float64(h.cfg.BaseDelay)
	mult := h.cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	d := time.Duration(delay)
	if h.cfg.MaxDelay > 0 && d > h.cfg.MaxDelay {
		d = h.cfg.MaxDelay
	}
	return d
}

// Execute runs op, retrying on error per the classification and backoff
// schedule until op succeeds, a permanent-category error is classified,
// MaxRetries is exhausted, or ctx is cancelled. It blocks while the
// handler is paused.
func (h *Handler) Execute(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		class := h.classify(err)
		if class.Category == CategoryPermanent {
			return err
		}
		if h.cfg.MaxRetries > 0 && attempt >= h.cfg.MaxRetries {
			return errors.Join(ErrRetriesExhausted, lastErr)
		}

		delay := h.Backoff(attempt)

		h.mu.Lock()
		hook := h.onRetry
		h.mu.Unlock()
		if hook != nil {
			hook(attempt, delay, err, class)
		}
		h.log.Warn("retrying after error",
			zap.Int("attempt", attempt), zap.Duration("delay", delay),
			zap.String("category", class.Category.String()), zap.Error(err))

		if waitErr := h.sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func (h *Handler) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			h.mu.Lock()
			paused := h.paused
			resumeCh := h.resumeCh
			h.mu.Unlock()
			if !paused {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-resumeCh:
				return nil
			}
		}
	}
}
