// Package scheduler runs the background duties of the server: registry
// update checks with backoff and periodic cache cleanup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

// Defaults for the registry update loop.
const (
	DefaultPollInterval         = 24 * time.Hour
	DefaultInitialBackoff       = 60 * time.Second
	DefaultMaxBackoff           = time.Hour
	DefaultMaxTransientFailures = 8
	DefaultCleanupInterval      = 6 * time.Hour
)

// Checker performs one registry update check.
type Checker interface {
	Check(ctx context.Context) registry.Outcome
}

// Cleaner removes expired cache entries when due.
type Cleaner interface {
	CleanupIfDue(ctx context.Context, interval time.Duration)
}

// Config configures a Scheduler.
type Config struct {
	// Periodic selects long-running mode. When false every duty runs at most
	// once at startup and returns.
	Periodic bool

	PollInterval         time.Duration
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxTransientFailures int
	CleanupInterval      time.Duration

	// StatePath is the registry state file consulted to decide whether the
	// startup check is due. Empty means always due.
	StatePath string

	Logger *slog.Logger
}

// Scheduler drives registry checks and cache cleanup.
type Scheduler struct {
	cfg     Config
	checker Checker
	cleaner Cleaner
	logger  *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	now    func() time.Time
}

// New creates a Scheduler. A nil cleaner disables cache cleanup.
func New(cfg Config, checker Checker, cleaner Cleaner) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxTransientFailures <= 0 {
		cfg.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:     cfg,
		checker: checker,
		cleaner: cleaner,
		logger:  logger,
		sleep:   sleepContext,
		jitter:  func() float64 { return 0.8 + 0.4*rand.Float64() },
		now:     time.Now,
	}
}

// RunRegistryUpdates runs registry update checks until ctx is done.
// skipInitial suppresses the startup check when the caller has just
// bootstrapped the registry itself.
func (s *Scheduler) RunRegistryUpdates(ctx context.Context, skipInitial bool) error {
	if !s.cfg.Periodic {
		if !skipInitial && registry.CheckIsDue(s.cfg.StatePath, s.cfg.PollInterval, s.now()) {
			s.check(ctx, "startup_once")
		}
		return nil
	}

	backoff := s.cfg.InitialBackoff
	failures := 0

	if skipInitial {
		if s.sleep(ctx, s.cfg.PollInterval) != nil {
			return nil
		}
	}

	for {
		var delay time.Duration

		switch outcome := s.check(ctx, "periodic"); outcome {
		case registry.OutcomeTransientFailure:
			failures++
			if failures >= s.cfg.MaxTransientFailures {
				s.logger.Warn("Registry update retries suspended",
					"consecutive_failures", failures,
					"cooldown", s.cfg.PollInterval)
				failures = 0
				backoff = s.cfg.InitialBackoff
				delay = s.cfg.PollInterval
				break
			}
			delay = time.Duration(float64(backoff) * s.jitter())
			backoff = min(2*backoff, s.cfg.MaxBackoff)
		default:
			failures = 0
			backoff = s.cfg.InitialBackoff
			delay = s.cfg.PollInterval
		}

		if s.sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// RunCacheCleanup runs cache cleanup once at startup and, in periodic mode,
// again every cleanup interval until ctx is done.
func (s *Scheduler) RunCacheCleanup(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}

	s.cleanup(ctx)
	if !s.cfg.Periodic {
		return nil
	}

	for {
		if s.sleep(ctx, s.cfg.CleanupInterval) != nil {
			return nil
		}
		s.cleanup(ctx)
	}
}

// check runs one update check. A panic is logged and reported as a
// semantic failure so the loop keeps running.
func (s *Scheduler) check(ctx context.Context, mode string) (outcome registry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Registry update check failed", "mode", mode, "error", fmt.Sprint(r))
			outcome = registry.OutcomeSemanticFailure
		}
	}()
	return s.checker.Check(ctx)
}

func (s *Scheduler) cleanup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Cache cleanup failed", "error", fmt.Sprint(r))
		}
	}()
	s.cleaner.CleanupIfDue(ctx, s.cfg.CleanupInterval)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
