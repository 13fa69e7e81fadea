package scheduler

import (
	"context"
	"errors"
	"time"

	"harvestbot/pkg/logx"
)

const jobWarnThrottle = 5 * time.Second

func (s *Service) runJob(name string, job Job) {
	ctx := context.Background()
	if rc := s.runCtx.Load(); rc != nil {
		ctx = rc.ctx
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.log.Debug("schedule fired", logx.String("schedule", name))
	err := job(ctx)
	if err == nil {
		s.log.Debug("schedule job done", logx.String("schedule", name), logx.Duration("took", time.Since(start)))
		return
	}
	s.reportJobError(name, err)
}

func (s *Service) reportJobError(name string, err error) {
	for _, q := range s.quiet {
		if errors.Is(err, q) {
			s.log.Debug("schedule job skipped", logx.String("schedule", name), logx.Err(err))
			return
		}
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	now := time.Now()
	s.errMu.Lock()
	last := s.lastErrWarn[name]
	if !last.IsZero() && now.Sub(last) < jobWarnThrottle {
		s.errMu.Unlock()
		return
	}
	s.lastErrWarn[name] = now
	s.errMu.Unlock()

	s.log.Warn("schedule job failed", logx.String("schedule", name), logx.Err(err))
}
