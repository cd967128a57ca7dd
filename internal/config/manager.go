// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Listener is invoked with the previous and next configuration plus the
// computed diff whenever a reload takes effect. Returning an error
// causes the manager to roll back: listeners are re-invoked with the
// arguments reversed so they can undo whatever they already applied,
// which is why listeners must be idempotent against repeated
// application of the same config.
type Listener func(previous, next *Config, diff DiffSummary) error

// Manager owns the live configuration, a file watcher driving
// hot-reload, and the listener set that applies each reload's diff.
type Manager struct {
	mu      sync.RWMutex
	loader  *Loader
	path    string
	logger  *slog.Logger
	current *Config
	lastRaw []byte

	listenersMu    sync.Mutex
	listeners      []listenerEntry
	nextListenerID int

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads path once and returns a Manager ready to Watch.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loader, err := NewLoader(WithJSONFile(path))
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return &Manager{
		loader:  loader,
		path:    path,
		logger:  logger,
		current: cfg,
		lastRaw: raw,
	}, nil
}

// listenerEntry pairs a Listener with the id used to cancel it, kept in
// a slice (not a map) so listeners fire and roll back in the order they
// subscribed.
type listenerEntry struct {
	id int
	l  Listener
}

// Current returns the active configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers a listener and returns a cancellation handle that
// deregisters it.
func (m *Manager) Subscribe(l Listener) (cancel func()) {
	m.listenersMu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners = append(m.listeners, listenerEntry{id: id, l: l})
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		for i, entry := range m.listeners {
			if entry.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				break
			}
		}
		m.listenersMu.Unlock()
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	out := make([]Listener, 0, len(m.listeners))
	for _, entry := range m.listeners {
		out = append(out, entry.l)
	}
	return out
}

// Watch starts an fsnotify watch on the config file's directory (files
// are watched by directory, not by path, so editors that replace-via-
// rename are still observed) and reloads on every write/create event
// naming the config file. It runs until Stop is called.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	m.watcher = watcher
	m.done = make(chan struct{})

	go func() {
		defer watcher.Close()
		target := filepath.Clean(m.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Reload(); err != nil {
					m.logger.Warn("configuration reload failed", "path", m.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("configuration watch error", "error", err)
			case <-m.done:
				return
			}
		}
	}()
	return nil
}

// Stop halts the file watch goroutine.
func (m *Manager) Stop() {
	if m.done != nil {
		close(m.done)
	}
}

// Reload re-parses the config file, validates it, and either applies it
// (publishing the diff to every subscriber) or preserves the previous
// configuration and restores the on-disk file to the last known-good
// form.
func (m *Manager) Reload() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := m.loader.Reload(); err != nil {
		m.logger.Warn("configuration reload failed", "error", err)
		if restoreErr := restoreLastGood(m.path, m.lastRaw); restoreErr != nil {
			m.logger.Warn("failed to restore last-known-good configuration", "error", restoreErr)
		}
		return err
	}

	next, err := m.loader.Load()
	if err != nil {
		m.logger.Warn("configuration reload failed", "error", err)
		if restoreErr := restoreLastGood(m.path, m.lastRaw); restoreErr != nil {
			m.logger.Warn("failed to restore last-known-good configuration", "error", restoreErr)
		}
		return err
	}

	m.mu.RLock()
	previous := m.current
	m.mu.RUnlock()

	diff := Diff(previous, next)

	listeners := m.snapshotListeners()
	for i, l := range listeners {
		if applyErr := l(previous, next, diff); applyErr != nil {
			m.logger.Warn("configuration rollback applied", "error", applyErr)
			reverseDiff := Diff(next, previous)
			for _, undo := range listeners[:i+1] {
				_ = undo(next, previous, reverseDiff)
			}
			if restoreErr := restoreLastGood(m.path, m.lastRaw); restoreErr != nil {
				m.logger.Warn("failed to restore last-known-good configuration", "error", restoreErr)
			}
			return fmt.Errorf("apply config: %w", applyErr)
		}
	}

	m.mu.Lock()
	m.current = next
	m.lastRaw = raw
	m.mu.Unlock()

	m.logger.Info("configuration reloaded", "camerasAdded", len(diff.Cameras.Added),
		"camerasRemoved", len(diff.Cameras.Removed), "camerasChanged", len(diff.Cameras.Changed),
		"channelsAdded", len(diff.Channels.Added), "channelsRemoved", len(diff.Channels.Removed),
		"channelsChanged", len(diff.Channels.Changed))
	return nil
}
