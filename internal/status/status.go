// Package status serves a small operational surface: liveness plus a JSON
// snapshot of every scheduler kind (pending count, last tick, last error).
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

// SnapshotSource is implemented by the scheduler service.
type SnapshotSource interface {
	Snapshot() sched.Snapshot
}

type Service struct {
	cfg    Config
	src    SnapshotSource
	log    logx.Logger
	ln     net.Listener
	srv    *http.Server
	closed chan struct{}
}

func New(cfg Config, src SnapshotSource, log logx.Logger) *Service {
	return &Service{cfg: cfg, src: src, log: log, closed: make(chan struct{})}
}

// Start binds the listener and serves in the background.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		close(s.closed)
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8091"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.src.Snapshot()); err != nil {
			s.log.Warn("status encode failed", logx.Err(err))
		}
	})

	s.srv = &http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		defer close(s.closed)
		s.log.Info("status server started", logx.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(sctx)
	select {
	case <-s.closed:
	case <-sctx.Done():
	}
}
