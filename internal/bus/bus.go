// Package bus implements Guardian's event bus: detectors publish
// events, a declared-order set of suppression rules decides whether
// each is accepted, and accepted events are persisted then fanned out
// to subscribers in publication order.
package bus

import (
	"sync"
	"time"

	"github.com/guardian-io/guardian/internal/types"
)

// Store is the durable sink an accepted event is written to before
// fan-out, matching the store contract in the external interfaces.
type Store interface {
	SaveEvent(e types.Event) (types.Event, error)
}

// Matcher selects which events a SuppressionRule applies to.
type Matcher struct {
	Detector        string
	Source          string
	Channel         string
	SeverityAtLeast types.Severity
}

func (m Matcher) matches(e types.Event) bool {
	if m.Detector != "" && m.Detector != e.Detector {
		return false
	}
	if m.Source != "" && m.Source != e.Source {
		return false
	}
	if m.Channel != "" && m.Channel != e.Meta.Channel {
		return false
	}
	if m.SeverityAtLeast != "" && severityRank(e.Severity) < severityRank(m.SeverityAtLeast) {
		return false
	}
	return true
}

func severityRank(s types.Severity) int {
	switch s {
	case types.SeverityInfo:
		return 0
	case types.SeverityWarning:
		return 1
	case types.SeverityCritical:
		return 2
	default:
		return -1
	}
}

// SuppressionRule is a matcher plus a drop/rate-limit policy, applied
// in declared order: the first rule whose matcher matches an event
// owns that event exclusively.
type SuppressionRule struct {
	ID            string
	Matcher       Matcher
	SuppressForMs int64
	MaxEvents     int
	PerMs         int64
	TimelineTTLMs int64
	Reason        string
}

// Warning is emitted to SSE subscribers (via OnWarning) when a
// suppression timeline's pruning removes expired entries.
type Warning struct {
	Type        string
	RuleID      string
	Channel     string
	Count       int
	TimelineTTL int64
	At          time.Time
}

// Bus fans detector events out to subscribers after suppression and
// store persistence, in publication order per subscriber.
type Bus struct {
	mu        sync.Mutex
	rules     []SuppressionRule
	timelines map[string]*timeline
	store     Store

	subscribers map[int]chan types.Event
	nextSubID   int

	onWarning   func(Warning)
	onSuppress  func(ruleID string)
	onAccept    func(e types.Event)
}

// Options configures a new Bus.
type Options struct {
	Store      Store
	OnWarning  func(Warning)
	OnSuppress func(ruleID string)
	OnAccept   func(e types.Event)
}

// New builds a Bus with no suppression rules configured.
func New(opts Options) *Bus {
	return &Bus{
		timelines:   make(map[string]*timeline),
		store:       opts.Store,
		subscribers: make(map[int]chan types.Event),
		onWarning:   opts.OnWarning,
		onSuppress:  opts.OnSuppress,
		onAccept:    opts.OnAccept,
	}
}

// ConfigureSuppression atomically replaces the rule set and discards
// every existing Timeline, since a Timeline's meaning is tied to the
// rule that produced it.
func (b *Bus) ConfigureSuppression(rules []SuppressionRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = rules
	b.timelines = make(map[string]*timeline)
}

// Subscribe registers a channel that receives accepted events, in
// publication order relative to this subscriber. Delivery does not
// block: an event is dropped for a subscriber whose buffer is full.
// The returned function cancels the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan types.Event, func()) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	ch := make(chan types.Event, buffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish evaluates suppression, persists the event via Store if
// accepted, fans it out to subscribers, and reports whether it was
// accepted.
func (b *Bus) Publish(e types.Event) (bool, error) {
	b.mu.Lock()
	rule, ruleFound := b.matchRule(e)
	if ruleFound {
		accept, warn := b.evaluate(rule, e)
		if warn != nil {
			b.mu.Unlock()
			if b.onWarning != nil {
				b.onWarning(*warn)
			}
			b.mu.Lock()
		}
		if !accept {
			b.mu.Unlock()
			if b.onSuppress != nil {
				b.onSuppress(rule.ID)
			}
			return false, nil
		}
	}
	subs := make([]chan types.Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	saved := e
	if b.store != nil {
		var err error
		saved, err = b.store.SaveEvent(e)
		if err != nil {
			return false, err
		}
	}

	if b.onAccept != nil {
		b.onAccept(saved)
	}

	for _, ch := range subs {
		select {
		case ch <- saved:
		default:
		}
	}

	return true, nil
}

func (b *Bus) matchRule(e types.Event) (SuppressionRule, bool) {
	for _, r := range b.rules {
		if r.Matcher.matches(e) {
			return r, true
		}
	}
	return SuppressionRule{}, false
}

// evaluate applies one rule's policy to event e, mutating that rule's
// Timeline. Caller holds b.mu.
func (b *Bus) evaluate(rule SuppressionRule, e types.Event) (accept bool, warn *Warning) {
	tl := b.timelines[rule.ID]
	if tl == nil {
		tl = newTimeline()
		b.timelines[rule.ID] = tl
	}

	if rule.TimelineTTLMs > 0 {
		if pruned := tl.pruneOlderThan(e.Ts - rule.TimelineTTLMs); pruned > 0 {
			warn = &Warning{
				Type:        "suppression",
				RuleID:      rule.ID,
				Channel:     e.Meta.Channel,
				Count:       pruned,
				TimelineTTL: rule.TimelineTTLMs,
				At:          time.UnixMilli(e.Ts),
			}
		}
	}

	if rule.SuppressForMs > 0 {
		if last, ok := tl.last(); ok && e.Ts-last < rule.SuppressForMs {
			return false, warn
		}
	}

	if rule.MaxEvents > 0 && rule.PerMs > 0 {
		count := tl.countSince(e.Ts - rule.PerMs)
		if count >= rule.MaxEvents {
			return false, warn
		}
	}

	tl.record(e.Ts)
	return true, warn
}
