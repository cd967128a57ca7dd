package metrics

import "time"

// RestartHistoryLimit bounds the per-channel restart history ring kept
// for the SSE digest and debugging; older entries are dropped FIFO.
const RestartHistoryLimit = 20

// RestartDescriptor records one classified restart decision.
type RestartDescriptor struct {
	Channel     string `json:"channel"`
	Reason      string `json:"reason"`
	Attempt     int    `json:"attempt"`
	DelayMs     int64  `json:"delayMs"`
	JitterMs    int64  `json:"jitterMs"`
	At          int64  `json:"at"`
}

// ChannelHealth is the last reported health signal for a channel.
type ChannelHealth struct {
	Severity      string `json:"severity"`
	Reason        string `json:"reason"`
	DegradedSince int64  `json:"degradedSince,omitempty"`
}

type channelState struct {
	restarts           int64
	byReason           map[string]int64
	lastRestart        *RestartDescriptor
	lastRestartAt      int64
	watchdogBackoffMs  int64
	lastWatchdogJitter int64
	restartHistory     []RestartDescriptor
	delayHistogram     map[string]int64
	attemptHistogram   map[string]int64
	health             ChannelHealth
}

func newChannelState() *channelState {
	return &channelState{
		byReason:         make(map[string]int64),
		delayHistogram:   make(map[string]int64),
		attemptHistogram: make(map[string]int64),
	}
}

type transportFallbackState struct {
	total     int64
	byChannel map[string]*channelTransportState
	last      *TransportFallbackEvent
}

type channelTransportState struct {
	total int64
	last  *TransportFallbackEvent
}

// TransportFallbackEvent records one RTSP transport advance or reset.
type TransportFallbackEvent struct {
	Channel               string `json:"channel"`
	From                  string `json:"from"`
	To                    string `json:"to"`
	Reason                string `json:"reason"`
	At                    int64  `json:"at"`
	ResetsBackoff         bool   `json:"resetsBackoff,omitempty"`
	ResetsCircuitBreaker  bool   `json:"resetsCircuitBreaker,omitempty"`
}

type pipelineKindState struct {
	restarts          int64
	lastRestartAt     int64
	lastRestart       *RestartDescriptor
	byReason          map[string]int64
	byChannel         map[string]*channelState
	transportFallback transportFallbackState
	timersByChannel   map[string]map[string]int64
}

func newPipelineKindState() *pipelineKindState {
	return &pipelineKindState{
		byReason:  make(map[string]int64),
		byChannel: make(map[string]*channelState),
		transportFallback: transportFallbackState{
			byChannel: make(map[string]*channelTransportState),
		},
		timersByChannel: make(map[string]map[string]int64),
	}
}

func (r *Registry) kind(kind string) *pipelineKindState {
	k, ok := r.pipelines[kind]
	if !ok {
		k = newPipelineKindState()
		r.pipelines[kind] = k
	}
	return k
}

// delayBucket returns the histogram bucket label for a restart delay in
// milliseconds, using fixed boundaries.
func delayBucket(ms int64) string {
	switch {
	case ms < 25:
		return "<25"
	case ms < 50:
		return "25-50"
	case ms < 100:
		return "50-100"
	case ms < 250:
		return "100-250"
	case ms < 500:
		return "250-500"
	case ms < 1000:
		return "500-1000"
	default:
		return ">=1000"
	}
}

// attemptBucket returns the histogram bucket label for an attempt count.
func attemptBucket(n int) string {
	switch {
	case n <= 0:
		return "1"
	case n == 1:
		return "1"
	case n == 2:
		return "2"
	case n == 3:
		return "3"
	case n <= 5:
		return "4-5"
	case n <= 10:
		return "6-10"
	default:
		return ">10"
	}
}

// RestartOpts carries the optional fields attached to a restart record.
type RestartOpts struct {
	Channel  string
	DelayMs  int64
	Attempt  int
	JitterMs int64
}

// RecordPipelineRestart records a classified restart decision for a
// pipeline kind ("ffmpeg" or "audio") and reason, updating per-channel
// totals, the delay/attempt histograms, and the restart history ring.
func (r *Registry) RecordPipelineRestart(kind, reason string, opts RestartOpts) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := nowMs()
	desc := RestartDescriptor{
		Channel:  opts.Channel,
		Reason:   reason,
		Attempt:  opts.Attempt,
		DelayMs:  opts.DelayMs,
		JitterMs: opts.JitterMs,
		At:       at,
	}

	ks := r.kind(kind)
	ks.restarts++
	ks.lastRestartAt = at
	ks.lastRestart = &desc
	ks.byReason[reason]++

	cs, ok := ks.byChannel[opts.Channel]
	if !ok {
		cs = newChannelState()
		ks.byChannel[opts.Channel] = cs
	}
	cs.restarts++
	cs.byReason[reason]++
	cs.lastRestart = &desc
	cs.lastRestartAt = at
	cs.watchdogBackoffMs = opts.DelayMs
	cs.lastWatchdogJitter = opts.JitterMs
	cs.delayHistogram[delayBucket(opts.DelayMs)]++
	cs.attemptHistogram[attemptBucket(opts.Attempt)]++

	cs.restartHistory = append(cs.restartHistory, desc)
	if len(cs.restartHistory) > RestartHistoryLimit {
		cs.restartHistory = cs.restartHistory[len(cs.restartHistory)-RestartHistoryLimit:]
	}

	r.promRestartJitterMs.WithLabelValues(kind, opts.Channel).Observe(float64(opts.JitterMs))
}

// TransportOpts carries the optional fields attached to a transport
// fallback or reset record.
type TransportOpts struct {
	Channel              string
	From                 string
	To                   string
	ResetsBackoff        bool
	ResetsCircuitBreaker bool
}

// RecordTransportFallback records an RTSP transport advance (or manual
// reset) for a pipeline kind.
func (r *Registry) RecordTransportFallback(kind, reason string, opts TransportOpts) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := TransportFallbackEvent{
		Channel:              opts.Channel,
		From:                 opts.From,
		To:                   opts.To,
		Reason:               reason,
		At:                   nowMs(),
		ResetsBackoff:        opts.ResetsBackoff,
		ResetsCircuitBreaker: opts.ResetsCircuitBreaker,
	}

	ks := r.kind(kind)
	ks.transportFallback.total++
	ks.transportFallback.last = &ev

	cts, ok := ks.transportFallback.byChannel[opts.Channel]
	if !ok {
		cts = &channelTransportState{}
		ks.transportFallback.byChannel[opts.Channel] = cts
	}
	cts.total++
	cts.last = &ev

	r.promTransportFallback.WithLabelValues(opts.Channel, reason).Inc()
}

// SetPipelineChannelHealth records the current health signal for a
// channel (e.g. from resource-pressure monitoring).
func (r *Registry) SetPipelineChannelHealth(kind, channel string, health ChannelHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks := r.kind(kind)
	cs, ok := ks.byChannel[channel]
	if !ok {
		cs = newChannelState()
		ks.byChannel[channel] = cs
	}
	cs.health = health
}

// ResetPipelineChannel clears all recorded state for one channel within
// a pipeline kind. Nothing in the module calls it; config reloads leave
// per-channel metrics in place.
func (r *Registry) ResetPipelineChannel(kind, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks := r.kind(kind)
	delete(ks.byChannel, channel)
	delete(ks.transportFallback.byChannel, channel)
	delete(ks.timersByChannel, channel)
}

// ObserveChannelTimer records the last-fired timestamp for a named timer
// on a channel (start/watchdog/streamIdle/restart/kill), useful for
// debugging and reported in the snapshot's per-channel "timers" map.
func (r *Registry) ObserveChannelTimer(kind, channel, timer string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks := r.kind(kind)
	m, ok := ks.timersByChannel[channel]
	if !ok {
		m = make(map[string]int64)
		ks.timersByChannel[channel] = m
	}
	m[timer] = time.Now().UnixMilli()
}
