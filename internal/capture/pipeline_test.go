package capture

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"
)

func findShellOrSkip(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPipelineRunsToRunningState(t *testing.T) {
	sh := findShellOrSkip(t)

	cfg := PipelineConfig{
		Channel:        "video:lobby",
		Format:         FormatVideo,
		FFmpegPath:     sh,
		InputArgs:      []string{"-c", "sleep 5"},
		FrameMagic:     PNGMagic,
		MaxBufferBytes: 1 << 20,
		Backoff:        BackoffBudgets{RestartDelayMs: 10, RestartMaxDelayMs: 100, RestartJitterFactor: 0.1},
		CircuitBreakerThreshold: 5,
		RandFunc:                func() float64 { return 0 },
	}

	p := NewPipeline(cfg, Handlers{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return p.State().Status == StateRunning }) {
		t.Fatalf("pipeline never reached running, got %v", p.State().Status)
	}

	p.Stop()
}

func TestPipelineRestartsWithBackoffOnImmediateExit(t *testing.T) {
	sh := findShellOrSkip(t)

	var mu sync.Mutex
	var recovered []RecoverEvent

	cfg := PipelineConfig{
		Channel:                 "video:hall",
		Format:                  FormatVideo,
		FFmpegPath:              sh,
		InputArgs:               []string{"-c", "exit 1"},
		FrameMagic:              PNGMagic,
		MaxBufferBytes:          1 << 20,
		Backoff:                 BackoffBudgets{RestartDelayMs: 5, RestartMaxDelayMs: 20, RestartJitterFactor: 0},
		CircuitBreakerThreshold: 100,
		RandFunc:                func() float64 { return 0 },
	}

	handlers := Handlers{
		OnRecover: func(ev RecoverEvent) {
			mu.Lock()
			recovered = append(recovered, ev)
			mu.Unlock()
		},
	}

	p := NewPipeline(cfg, handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recovered) >= 2
	})
	p.Stop()

	if !ok {
		t.Fatalf("expected at least 2 recover events, got %d", len(recovered))
	}

	mu.Lock()
	defer mu.Unlock()
	if recovered[0].Attempt != 1 || recovered[1].Attempt != 2 {
		t.Errorf("unexpected attempt sequence: %+v", recovered)
	}
}

func TestPipelineCircuitBreakerTrips(t *testing.T) {
	sh := findShellOrSkip(t)

	var mu sync.Mutex
	var fatal *FatalEvent

	cfg := PipelineConfig{
		Channel:                 "video:broken",
		Format:                  FormatVideo,
		FFmpegPath:              sh,
		InputArgs:               []string{"-c", "exit 1"},
		FrameMagic:              PNGMagic,
		MaxBufferBytes:          1 << 20,
		Backoff:                 BackoffBudgets{RestartDelayMs: 2, RestartMaxDelayMs: 4, RestartJitterFactor: 0},
		CircuitBreakerThreshold: 2,
		RandFunc:                func() float64 { return 0 },
	}

	handlers := Handlers{
		OnFatal: func(ev FatalEvent) {
			mu.Lock()
			fatal = &ev
			mu.Unlock()
		},
	}

	p := NewPipeline(cfg, handlers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool { return p.State().Status == StateBroken })
	p.Stop()

	if !ok {
		t.Fatalf("expected pipeline to reach broken state, got %v", p.State().Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if fatal == nil {
		t.Fatal("expected OnFatal to be invoked")
	}
}

func TestPipelineResetCircuitBreakerReturnsToIdle(t *testing.T) {
	sh := findShellOrSkip(t)

	cfg := PipelineConfig{
		Channel:                 "video:reset",
		Format:                  FormatVideo,
		FFmpegPath:              sh,
		InputArgs:               []string{"-c", "exit 1"},
		FrameMagic:              PNGMagic,
		MaxBufferBytes:          1 << 20,
		Backoff:                 BackoffBudgets{RestartDelayMs: 2, RestartMaxDelayMs: 4, RestartJitterFactor: 0},
		CircuitBreakerThreshold: 1,
		RandFunc:                func() float64 { return 0 },
	}

	p := NewPipeline(cfg, Handlers{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return p.State().Status == StateBroken }) {
		t.Fatalf("expected broken state, got %v", p.State().Status)
	}

	p.ResetCircuitBreaker()
	if got := p.State().Status; got != StateIdle {
		t.Errorf("after reset, status = %v, want idle", got)
	}

	p.Stop()
}
