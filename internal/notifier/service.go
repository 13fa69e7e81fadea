package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"harvestbot/internal/eventbus"
	"harvestbot/internal/retry"
	"harvestbot/internal/runner"
	"harvestbot/internal/storage"
	"harvestbot/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

type Config struct {
	Enabled      bool
	OnlyFailures bool
	RatePerSec   float64
	RetryMax     int
}

// Service turns run.finished events into messages.
//
// It is safe for concurrent use; Apply may be called while Run is active.
type Service struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	sender  Sender
	limiter *rate.Limiter

	sent   atomic.Uint64
	failed atomic.Uint64

	sleep func(ctx context.Context, d time.Duration) error // nil means real time
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, sender: sender}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// SetSender swaps the delivery backend, e.g. after a token change.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Counters returns delivered and failed message counts.
func (s *Service) Counters() (sent, failed uint64) { return s.sent.Load(), s.failed.Load() }

// Run consumes the bus until ctx ends. It returns nil on cancellation.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		return errors.New("notifier: nil bus")
	}
	events, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("notifier: subscription closed")
			}
			if ev.Type != eventbus.RunFinished {
				continue
			}
			rep, ok := ev.Data.(*runner.Report)
			if !ok || rep == nil {
				continue
			}
			if err := s.Notify(ctx, rep.Record()); err != nil && !errors.Is(err, ErrDisabled) && ctx.Err() == nil {
				s.log.Warn("run notification failed", logx.String("run_id", rep.ID), logx.Err(err))
			}
		}
	}
}

// Notify sends the summary of rec unless filtered out.
func (s *Service) Notify(ctx context.Context, rec storage.RunRecord) error {
	s.mu.Lock()
	cfg, sender, limiter := s.cfg, s.sender, s.limiter
	s.mu.Unlock()

	if !cfg.Enabled || sender == nil {
		return ErrDisabled
	}
	if cfg.OnlyFailures && rec.OK {
		s.log.Debug("run notification skipped (only_failures)", logx.String("run_id", rec.ID))
		return nil
	}
	text := Format(rec)

	policy := retry.Policy{Max: cfg.RetryMax, Base: time.Second, MaxDelay: 30 * time.Second, Sleep: s.sleep}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if err := limiter.Wait(ctx); err != nil {
			return retry.NoRetry(err)
		}
		err := sender.Send(ctx, text)
		if err == nil {
			return nil
		}
		again, after := retryableSend(err)
		switch {
		case !again:
			return retry.NoRetry(err)
		case after > 0:
			return retry.RetryAfter(err, after)
		default:
			return err
		}
	})
	if err != nil {
		s.failed.Add(1)
		return err
	}
	s.sent.Add(1)
	s.log.Debug("run notification sent", logx.String("run_id", rec.ID), logx.Bool("ok", rec.OK))
	return nil
}
