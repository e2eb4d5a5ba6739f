// Package retention runs the nightly housekeeping pass: expired sessions are
// dropped and audit entries past their retention window are pruned.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type Sweeper struct {
	cfg      config.RetentionConfig
	sessions store.SessionStore
	audit    store.AuditStore
	logger   *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewSweeper(cfg config.RetentionConfig, sessions store.SessionStore, audit store.AuditStore, logger *utils.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, sessions: sessions, audit: audit, logger: logger}
}

func (s *Sweeper) StartWithContext(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	spec := s.cfg.CronSpec
	if spec == "" {
		spec = "17 3 * * *"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		s.RunOnce(ctx, time.Now().UTC())
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	return nil
}

func (s *Sweeper) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) {
	if s == nil {
		return
	}
	if s.sessions != nil {
		if n, err := s.sessions.DeleteExpired(ctx, now); err != nil {
			if s.logger != nil {
				s.logger.Errorf("retention sessions sweep: %v", err)
			}
		} else if n > 0 && s.logger != nil {
			s.logger.Printf("retention: removed %d expired sessions", n)
		}
	}
	if s.audit != nil && s.cfg.AuditMaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.AuditMaxAgeDays)
		if n, err := s.audit.DeleteOlderThan(ctx, cutoff); err != nil {
			if s.logger != nil {
				s.logger.Errorf("retention audit sweep: %v", err)
			}
		} else if n > 0 && s.logger != nil {
			s.logger.Printf("retention: removed %d audit entries", n)
		}
	}
}
