package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// commandKind identifies a control operation sent to a Pipeline's run loop.
type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdResetCircuitBreaker
	cmdResetTransportFallback
	cmdUpdateOptions
)

type command struct {
	kind   commandKind
	opts   *PipelineConfig
	result chan error
}

// Pipeline supervises a single channel's decoder subprocess: spawning
// it, parsing its framed stdout into frames, classifying stderr and
// exit failures, and restarting with backoff until a circuit breaker
// trips. Commands are serialized through the run goroutine, but the
// stdout/stderr reader goroutines also update the state snapshot and
// transport position, so state is guarded by mu and the counters are
// atomic.
type Pipeline struct {
	cfg      PipelineConfig
	handlers Handlers
	logger   *slog.Logger

	backoff *BackoffPolicy
	dedup   *classDedup

	cmds   chan command
	done   chan struct{}
	cancel context.CancelFunc

	mu    sync.RWMutex
	state CaptureState

	attempt            atomic.Int32
	consecutiveBreaks  atomic.Int32
	runningCmd         *exec.Cmd
	lastStderrClass    FailureClass
}

// NewPipeline builds a Pipeline in the idle state. It does not start
// any subprocess until Start is called.
func NewPipeline(cfg PipelineConfig, handlers Handlers, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		backoff:  NewBackoffPolicy(cfg.Backoff, cfg.RandFunc),
		dedup:    newClassDedup(),
		cmds:     make(chan command, 4),
		done:     make(chan struct{}),
	}
	p.state = CaptureState{
		Channel: cfg.Channel,
		Status:  StateIdle,
		Transport: TransportState{
			Base:     firstOrEmpty(cfg.RTSPTransportSequence),
			Sequence: cfg.RTSPTransportSequence,
			Current:  firstOrEmpty(cfg.RTSPTransportSequence),
		},
	}
	return p
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// State returns a snapshot of the pipeline's current observable state.
func (p *Pipeline) State() CaptureState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(fn func(*CaptureState)) {
	p.mu.Lock()
	fn(&p.state)
	p.mu.Unlock()
}

// Start launches the run loop. It is an error to call Start twice
// without an intervening Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(runCtx)

	result := make(chan error, 1)
	p.cmds <- command{kind: cmdStart, result: result}
	return <-result
}

// Stop requests a graceful shutdown and waits for the run loop to exit.
func (p *Pipeline) Stop() {
	result := make(chan error, 1)
	select {
	case p.cmds <- command{kind: cmdStop, result: result}:
		<-result
	case <-p.done:
	}
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// ResetCircuitBreaker clears a tripped breaker, moving the pipeline
// back to idle so the next start attempt begins at attempt 1.
func (p *Pipeline) ResetCircuitBreaker() {
	result := make(chan error, 1)
	p.cmds <- command{kind: cmdResetCircuitBreaker, result: result}
	<-result
}

// ResetTransportFallback returns the RTSP transport to its base value.
func (p *Pipeline) ResetTransportFallback() {
	result := make(chan error, 1)
	p.cmds <- command{kind: cmdResetTransportFallback, result: result}
	<-result
}

// UpdateOptions applies a new PipelineConfig without restarting a
// currently-running subprocess; it takes effect on the next spawn.
func (p *Pipeline) UpdateOptions(cfg PipelineConfig) error {
	result := make(chan error, 1)
	p.cmds <- command{kind: cmdUpdateOptions, opts: &cfg, result: result}
	return <-result
}

// run is the pipeline's command loop. It owns every mutation of p.cfg
// and the subprocess lifecycle; the public methods communicate with it
// through p.cmds. p.attempt is also reset by advanceTransport, which
// the stderr reader goroutine can call.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	started := false
	stopped := false

	var restartTimer *time.Timer
	var restartFire <-chan time.Time

	stopRestartTimer := func() {
		if restartTimer != nil {
			restartTimer.Stop()
			restartTimer = nil
			restartFire = nil
		}
	}
	defer stopRestartTimer()

	exitCh := make(chan error, 1)
	runningExit := (<-chan error)(nil)

	for {
		select {
		case <-ctx.Done():
			if p.runningCmd != nil && p.runningCmd.Process != nil {
				_ = p.runningCmd.Process.Kill()
			}
			return

		case cmd := <-p.cmds:
			switch cmd.kind {
			case cmdStart:
				if started {
					cmd.result <- fmt.Errorf("capture: pipeline %q already started", p.cfg.Channel)
					continue
				}
				started = true
				stopped = false
				p.attempt.Store(0)
				p.dedup.reset()
				p.setState(func(s *CaptureState) { s.Status = StateStarting })
				go p.spawnAndWait(ctx, exitCh)
				runningExit = exitCh
				cmd.result <- nil

			case cmdStop:
				stopped = true
				stopRestartTimer()
				if p.runningCmd != nil && p.runningCmd.Process != nil {
					_ = p.runningCmd.Process.Signal(os.Interrupt)
				}
				cmd.result <- nil
				return

			case cmdResetCircuitBreaker:
				p.attempt.Store(0)
				p.consecutiveBreaks.Store(0)
				p.dedup.reset()
				p.setState(func(s *CaptureState) {
					s.Status = StateIdle
					s.RestartCount = 0
					s.LastFailureReason = ""
				})
				cmd.result <- nil

			case cmdResetTransportFallback:
				p.setState(func(s *CaptureState) {
					s.Transport.Index = 0
					s.Transport.Current = s.Transport.Base
				})
				cmd.result <- nil

			case cmdUpdateOptions:
				p.cfg = *cmd.opts
				p.backoff = NewBackoffPolicy(p.cfg.Backoff, p.cfg.RandFunc)
				cmd.result <- nil
			}

		case err := <-runningExit:
			runningExit = nil
			if stopped {
				p.setState(func(s *CaptureState) { s.Status = StateIdle })
				return
			}
			p.handleExit(err)

			if p.State().Status == StateBroken {
				continue
			}

			attempt := int(p.attempt.Add(1))
			delayMs, meta := p.backoff.Compute(attempt)
			p.setState(func(s *CaptureState) { s.Status = StateRecovering })

			if p.handlers.OnRecover != nil {
				p.handlers.OnRecover(RecoverEvent{
					Channel: p.cfg.Channel,
					Reason:  p.State().LastFailureReason,
					Attempt: attempt,
					DelayMs: delayMs,
					Meta:    meta,
					At:      time.Now(),
				})
			}

			restartTimer = time.NewTimer(time.Duration(delayMs) * time.Millisecond)
			restartFire = restartTimer.C

		case <-restartFire:
			restartFire = nil
			restartTimer = nil
			p.setState(func(s *CaptureState) { s.Status = StateStarting })
			go p.spawnAndWait(ctx, exitCh)
			runningExit = exitCh
		}
	}
}

// handleExit classifies why the subprocess exited and decides whether
// the circuit breaker trips. A classification already observed on
// stderr while the process was running takes priority over the
// generic classification derivable from the exit error alone, since
// the stderr line is almost always more specific than "process exited".
func (p *Pipeline) handleExit(err error) {
	p.mu.Lock()
	class := p.lastStderrClass
	p.lastStderrClass = ""
	p.mu.Unlock()

	if class == "" {
		class = ClassifySpawnError(err)
	}
	if class == "" {
		class = ClassFFmpegExit
	}

	p.setState(func(s *CaptureState) {
		s.RestartCount++
		s.LastFailureReason = string(class)
	})

	if class.AdvancesTransport() && p.dedup.FirstOccurrence(class) {
		p.advanceTransport(string(class))
	}

	if int(p.attempt.Load())+1 >= p.cfg.CircuitBreakerThreshold && p.cfg.CircuitBreakerThreshold > 0 {
		p.setState(func(s *CaptureState) { s.Status = StateBroken })
		if p.handlers.OnFatal != nil {
			p.handlers.OnFatal(FatalEvent{
				Channel:     p.cfg.Channel,
				Reason:      string(class),
				Attempts:    int(p.attempt.Load()) + 1,
				LastFailure: string(class),
				At:          time.Now(),
			})
		}
	}
}

// advanceTransport moves to the next RTSP transport in the fallback
// sequence, wrapping to the base transport after exhausting it, and
// resets both the backoff attempt counter and the circuit breaker so a
// transport change gets a clean set of retries.
func (p *Pipeline) advanceTransport(reason string) {
	p.mu.Lock()
	seq := p.state.Transport.Sequence
	if len(seq) == 0 {
		p.mu.Unlock()
		return
	}
	from := p.state.Transport.Current
	p.state.Transport.Index = (p.state.Transport.Index + 1) % len(seq)
	to := seq[p.state.Transport.Index]
	p.state.Transport.Current = to
	p.state.Transport.LastReason = reason
	p.mu.Unlock()

	p.attempt.Store(0)
	p.dedup.reset()

	if p.handlers.OnTransportChange != nil {
		p.handlers.OnTransportChange(TransportChangeEvent{
			Channel:              p.cfg.Channel,
			From:                 from,
			To:                   to,
			Reason:               reason,
			ResetsBackoff:        true,
			ResetsCircuitBreaker: true,
			At:                   time.Now(),
		})
	}
}

// spawnAndWait starts the decoder subprocess, pumps its stdout through
// the configured frame scanner (or PCM chunker) and its stderr through
// the stderr classifier, and reports the exit error on exitCh.
func (p *Pipeline) spawnAndWait(ctx context.Context, exitCh chan<- error) {
	args := append([]string{}, p.cfg.InputArgs...)
	cmd := exec.CommandContext(ctx, p.cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		exitCh <- err
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		exitCh <- err
		return
	}

	if err := cmd.Start(); err != nil {
		exitCh <- err
		return
	}

	p.mu.Lock()
	p.runningCmd = cmd
	p.mu.Unlock()

	p.setState(func(s *CaptureState) { s.Status = StateRunning })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pumpStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		p.pumpStderr(stderr)
	}()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	if p.cfg.MonitorInterval > 0 && cmd.Process != nil {
		monitor := NewResourceMonitor(WithThresholds(p.cfg.Thresholds))
		pid := cmd.Process.Pid
		go monitor.MonitorProcess(monitorCtx, pid, p.cfg.MonitorInterval, func(alerts []ResourceAlert) {
			if p.handlers.OnResourceAlert != nil {
				p.handlers.OnResourceAlert(p.cfg.Channel, alerts)
			}
		})
	}

	waitErr := cmd.Wait()
	stopMonitor()
	wg.Wait()

	p.mu.Lock()
	p.runningCmd = nil
	p.mu.Unlock()

	exitCh <- waitErr
}

// pumpStdout reads the subprocess's stdout and emits frames via
// OnFrame, using either the PNG frame scanner or the PCM chunker
// depending on configuration.
func (p *Pipeline) pumpStdout(r io.Reader) {
	buf := make([]byte, 64*1024)

	if p.cfg.PCMChunkBytes > 0 {
		chunker := NewPCMChunker(p.cfg.PCMChunkBytes)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, frame := range chunker.Write(buf[:n]) {
					if p.handlers.OnFrame != nil {
						p.handlers.OnFrame(p.cfg.Channel, frame, time.Now())
					}
				}
			}
			if err != nil {
				return
			}
		}
	}

	marker := p.cfg.FrameMagic
	if len(marker) == 0 {
		marker = PNGMagic
	}
	scanner := NewFrameScanner(marker, p.cfg.MaxBufferBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames, scanErr := scanner.Write(buf[:n])
			for _, frame := range frames {
				if p.handlers.OnFrame != nil {
					p.handlers.OnFrame(p.cfg.Channel, frame, time.Now())
				}
			}
			if scanErr != nil && p.handlers.OnDroppedFrame != nil {
				p.handlers.OnDroppedFrame(p.cfg.Channel)
			}
		}
		if err != nil {
			return
		}
	}
}

// pumpStderr scans the subprocess's stderr line by line, classifying
// each line and recording the most specific classification seen for
// handleExit to use once the process exits.
func (p *Pipeline) pumpStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 64*1024)
	for sc.Scan() {
		line := sc.Text()
		if class := ClassifyStderrLine(line); class != "" {
			p.mu.Lock()
			p.lastStderrClass = class
			p.mu.Unlock()
			p.setState(func(s *CaptureState) { s.LastFailureReason = string(class) })
			if class.AdvancesTransport() && p.dedup.FirstOccurrence(class) {
				p.advanceTransport(string(class))
			}
		}
	}
}
