// Package notify fronts the messaging platform with a shared outbound rate
// limit so bursts of due items cannot trip platform flood control.
package notify

import (
	"context"

	"golang.org/x/time/rate"

	"unionbot/pkg/logx"
)

// Platform is the raw messaging surface implemented by a chat adapter.
// Refs are adapter-defined message identifiers, stable within a target.
type Platform interface {
	SendText(ctx context.Context, target, text string) (ref string, err error)
	EditText(ctx context.Context, target, ref, text string) error
	SendDocument(ctx context.Context, target, name string, data []byte) (ref string, err error)
}

// Config bounds the outbound send rate.
type Config struct {
	// PerSecond is the sustained message rate. Zero selects a platform-safe
	// default.
	PerSecond float64
	// Burst is the short-term allowance above the sustained rate.
	Burst int
}

// Service implements the handlers' Notifier over a Platform, pacing every
// outbound call through one shared limiter.
type Service struct {
	platform Platform
	limiter  *rate.Limiter
	log      logx.Logger
}

func New(p Platform, cfg Config, log logx.Logger) *Service {
	perSec := cfg.PerSecond
	if perSec <= 0 {
		perSec = 25
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Service{
		platform: p,
		limiter:  rate.NewLimiter(rate.Limit(perSec), burst),
		log:      log,
	}
}

func (s *Service) Deliver(ctx context.Context, target, content string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.platform.SendText(ctx, target, content)
}

func (s *Service) Update(ctx context.Context, target, ref, content string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.platform.EditText(ctx, target, ref, content)
}

func (s *Service) DeliverDocument(ctx context.Context, target, name string, data []byte) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.platform.SendDocument(ctx, target, name, data)
}
