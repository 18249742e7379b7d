// Package connectivity tracks whether the remote store is reachable.
//
// Reachability is probed with a periodic TCP dial and can be overridden
// with a local marker file, which lets users (and tests) force offline
// mode without touching the network. The monitor publishes state edges to
// subscribers; the sync orchestrator uses the offline-to-online edge to
// drain the queue immediately instead of waiting for its timer.
package connectivity

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Defaults for probe tuning.
const (
	DefaultProbeAddr     = "1.1.1.1:443"
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second

	// markerDebounce coalesces bursts of file system events on the
	// override marker into a single state check.
	markerDebounce = 100 * time.Millisecond
)

// Options configures a Monitor.
type Options struct {
	// ProbeAddr is the host:port dialed to test reachability.
	ProbeAddr string
	// ProbeInterval is the time between dial probes.
	ProbeInterval time.Duration
	// ProbeTimeout bounds each dial attempt.
	ProbeTimeout time.Duration

	// OverridePath is a marker file whose presence forces offline mode.
	// Empty disables the override.
	OverridePath string

	// Probe replaces the TCP dial, for tests.
	Probe func() bool

	// Logger for state transitions. Nil means no logging.
	Logger *zap.Logger
}

// Monitor probes connectivity and broadcasts state edges.
// It must be started with Start() before it reports anything useful.
type Monitor struct {
	probeAddr     string
	probeInterval time.Duration
	probeTimeout  time.Duration
	overridePath  string
	probe         func() bool
	log           *zap.Logger

	online atomic.Bool
	forced atomic.Bool

	mu      sync.Mutex
	subs    []chan bool
	running bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a monitor. Zero-value options get defaults.
func New(opts Options) *Monitor {
	if opts.ProbeAddr == "" {
		opts.ProbeAddr = DefaultProbeAddr
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Monitor{
		probeAddr:     opts.ProbeAddr,
		probeInterval: opts.ProbeInterval,
		probeTimeout:  opts.ProbeTimeout,
		overridePath:  opts.OverridePath,
		probe:         opts.Probe,
		log:           opts.Logger,
		done:          make(chan struct{}),
	}
	if m.probe == nil {
		m.probe = m.dialProbe
	}
	return m
}

// Start runs the initial probe and begins periodic probing. When an
// override path is configured its parent directory is watched so marker
// changes take effect immediately.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.forced.Store(m.markerPresent())

	if m.overridePath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create marker watcher: %w", err)
		}
		dir := filepath.Dir(m.overridePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to create marker directory: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch marker directory %s: %w", dir, err)
		}
		m.watcher = watcher
		m.wg.Add(1)
		go m.watchMarker()
	}

	m.online.Store(!m.forced.Load() && m.probe())
	m.log.Info("connectivity monitor started",
		zap.String("probe_addr", m.probeAddr),
		zap.Bool("online", m.online.Load()))

	m.running = true
	m.wg.Add(1)
	go m.probeLoop()
	return nil
}

// Stop shuts the monitor down and closes all subscriber channels.
// It blocks until the internal goroutines have exited.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close marker watcher: %w", err)
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.mu.Unlock()
	return nil
}

// IsOnline reports the current belief about reachability.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe returns a channel of state edges: true when connectivity
// returns, false when it is lost. The channel closes when ctx ends or
// the monitor stops.
func (m *Monitor) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 4)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.unsubscribe(ch)
		case <-m.done:
			// Stop() closes the channel.
		}
	}()
	return ch
}

func (m *Monitor) unsubscribe(ch chan bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.recompute()
		}
	}
}

// watchMarker reacts to override marker changes, debounced so editors
// that write-then-rename don't double-fire.
func (m *Monitor) watchMarker() {
	defer m.wg.Done()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.overridePath) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(markerDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			m.forced.Store(m.markerPresent())
			m.recompute()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("marker watcher error", zap.Error(err))
		}
	}
}

// recompute re-evaluates the online state and broadcasts the edge if it
// changed.
func (m *Monitor) recompute() {
	next := !m.forced.Load() && m.probe()
	prev := m.online.Swap(next)
	if prev == next {
		return
	}

	if next {
		m.log.Info("connectivity restored")
	} else {
		m.log.Info("connectivity lost",
			zap.Bool("forced_offline", m.forced.Load()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
			// Slow subscriber; it will observe IsOnline on its next poll.
		}
	}
}

func (m *Monitor) dialProbe() bool {
	conn, err := net.DialTimeout("tcp", m.probeAddr, m.probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Monitor) markerPresent() bool {
	if m.overridePath == "" {
		return false
	}
	_, err := os.Stat(m.overridePath)
	return err == nil
}
