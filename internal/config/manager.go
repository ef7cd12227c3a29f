package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of filesystem events most editors
// produce for a single save.
const debounceWindow = 200 * time.Millisecond

// Manager holds the current configuration snapshot and notifies subscribers
// on reload. Reloads that fail validation keep the previous snapshot.
type Manager struct {
	path string

	mu      sync.RWMutex
	current *Config
	subs    []chan *Config
}

// NewManager loads the initial configuration from path.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, current: cfg}, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload re-reads the file, swaps the snapshot and notifies subscribers.
// On error the previous snapshot stays active.
func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, fmt.Errorf("reload failed, keeping previous configuration: %w", err)
	}

	m.mu.Lock()
	m.current = cfg
	subs := append([]chan *Config(nil), m.subs...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// Subscriber is lagging; it will pick up Current() later.
		}
	}
	log.Printf("[INFO] configuration reloaded from %s", m.path)
	return cfg, nil
}

// Subscribe returns a channel receiving each successfully reloaded snapshot.
// The channel is buffered; a slow subscriber misses intermediate snapshots,
// never blocks a reload.
func (m *Manager) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Watch reloads the configuration whenever the file changes on disk, until
// the context is cancelled. It watches the parent directory because editors
// typically replace the file by rename.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		target := filepath.Clean(m.path)

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, func() {
					if _, rerr := m.Reload(); rerr != nil {
						log.Printf("[WARN] %v", rerr)
					}
				})

			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] config watcher error: %v", werr)
			}
		}
	}()
	return nil
}
