package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Supervisor owns one Pipeline per channel and keeps each one alive:
// suture restarts a pipeline's Serve loop if it ever exits or panics,
// while the pipeline's own classified backoff handles ordinary decoder
// restarts without involving suture at all. The two layers cover
// different failure classes — a decoder crash is routine and handled
// inside Pipeline; a bug that kills the Serve goroutine itself is the
// rare case suture exists for.
type Supervisor struct {
	root   *suture.Supervisor
	logger *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	tokens    map[string]suture.ServiceToken
}

// NewSupervisor builds a Supervisor. Call Run to start serving; Add can
// be called either before or after Run.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	root := suture.New("capture", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn("capture supervisor event", "event", ev.String())
		},
	})
	return &Supervisor{
		root:      root,
		logger:    logger,
		pipelines: make(map[string]*Pipeline),
		tokens:    make(map[string]suture.ServiceToken),
	}
}

// pipelineService adapts a *Pipeline to suture.Service.
type pipelineService struct {
	p *Pipeline
}

func (s pipelineService) Serve(ctx context.Context) error {
	if err := s.p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.p.Stop()
	return ctx.Err()
}

func (s pipelineService) String() string {
	return s.p.cfg.Channel
}

// Add registers a channel's pipeline and, if the supervisor is already
// running, starts it immediately.
func (sv *Supervisor) Add(cfg PipelineConfig, handlers Handlers) (*Pipeline, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, exists := sv.pipelines[cfg.Channel]; exists {
		return nil, fmt.Errorf("capture: channel %q already supervised", cfg.Channel)
	}

	p := NewPipeline(cfg, handlers, sv.logger)
	sv.pipelines[cfg.Channel] = p
	sv.tokens[cfg.Channel] = sv.root.Add(pipelineService{p: p})
	return p, nil
}

// Remove stops and unregisters a channel's pipeline.
func (sv *Supervisor) Remove(channel string) error {
	sv.mu.Lock()
	token, exists := sv.tokens[channel]
	if !exists {
		sv.mu.Unlock()
		return fmt.Errorf("capture: channel %q not found", channel)
	}
	delete(sv.tokens, channel)
	delete(sv.pipelines, channel)
	sv.mu.Unlock()

	return sv.root.Remove(token)
}

// Pipeline returns the named channel's pipeline, if registered.
func (sv *Supervisor) Pipeline(channel string) (*Pipeline, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	p, ok := sv.pipelines[channel]
	return p, ok
}

// Snapshot returns the observable state of every supervised pipeline.
func (sv *Supervisor) Snapshot() []CaptureState {
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	out := make([]CaptureState, 0, len(sv.pipelines))
	for _, p := range sv.pipelines {
		out = append(out, p.State())
	}
	return out
}

// Run blocks serving every registered pipeline until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) error {
	return sv.root.Serve(ctx)
}

// WaitUntilStable blocks until every pipeline is in StateRunning,
// StateBroken or StateIdle, or the timeout elapses. Useful in tests
// that need a deterministic point to assert on supervisor state.
func (sv *Supervisor) WaitUntilStable(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		stable := true
		for _, s := range sv.Snapshot() {
			if s.Status != StateRunning && s.Status != StateBroken && s.Status != StateIdle {
				stable = false
				break
			}
		}
		if stable {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
