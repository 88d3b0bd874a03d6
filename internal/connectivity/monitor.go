// Package connectivity provides a heartbeat-verified online/offline monitor.
//
// The platform's raw online flag is not trusted on its own: captive
// portals and stale associations can leave it reporting online while the
// path to the backend is dead. On targets without an authoritative
// connectivity API the monitor layers a periodic HEAD probe on top and
// only reports online while the probe keeps succeeding.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/linocruz/tindahan-sync/internal/logging"
	"github.com/linocruz/tindahan-sync/internal/metrics"
)

// Config holds monitor configuration.
type Config struct {
	ProbeURL          string
	HeartbeatInterval time.Duration // default 30s
	ProbeTimeout      time.Duration // default 10s
	FailureThreshold  int           // consecutive probe failures before flipping offline, default 3
	HTTPClient        *http.Client
}

// Monitor produces a single trustworthy online/offline signal with
// multi-subscriber fan-out. One Monitor per process, owned by the
// composition root.
type Monitor struct {
	cfg    Config
	source Source
	client *http.Client

	mu          sync.Mutex
	initialized bool
	online      bool
	failures    int
	netSubs     map[int]func(bool)
	appSubs     map[int]func(AppState)
	nextID      int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewMonitor creates a Monitor over the given platform source.
func NewMonitor(source Source, cfg Config) *Monitor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Monitor{
		cfg:     cfg,
		source:  source,
		client:  client,
		netSubs: make(map[int]func(bool)),
		appSubs: make(map[int]func(AppState)),
	}
}

// Initialize wires the platform listeners and, on unverified sources,
// starts the recurring heartbeat. Calling twice logs and no-ops.
func (m *Monitor) Initialize() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		logging.Warn("connectivity monitor already initialized")
		return
	}
	m.initialized = true
	m.failures = 0
	m.online = m.source.Status().IsOnline
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(stopCh)

	logging.Info("connectivity monitor started", map[string]interface{}{
		"verified_source":    m.source.Verified(),
		"heartbeat_interval": m.cfg.HeartbeatInterval.String(),
	})
}

// Destroy removes all listeners, clears subscriber sets and stops the
// heartbeat. Safe to call multiple times.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.netSubs = make(map[int]func(bool))
	m.appSubs = make(map[int]func(AppState))
	m.mu.Unlock()

	logging.Info("connectivity monitor stopped")
}

// Reinitialize is Destroy followed by Initialize.
func (m *Monitor) Reinitialize() {
	m.Destroy()
	m.Initialize()
}

// GetStatus returns the current connectivity status. Verified sources are
// authoritative; otherwise the platform flag is combined with the
// heartbeat verdict.
func (m *Monitor) GetStatus() Status {
	st := m.source.Status()
	if m.source.Verified() {
		return st
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st.IsOnline = st.IsOnline && m.failures < m.cfg.FailureThreshold
	return st
}

// OnNetworkChange registers a callback fired on online/offline edges.
// Returns an unsubscribe function.
func (m *Monitor) OnNetworkChange(cb func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.netSubs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.netSubs, id)
	}
}

// OnAppStateChange registers a callback fired on app-lifecycle edges.
// Returns an unsubscribe function.
func (m *Monitor) OnAppStateChange(cb func(state AppState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.appSubs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.appSubs, id)
	}
}

// CheckNow issues an out-of-band verification probe and updates the
// public status from its outcome. Reports whether the probe succeeded.
// On verified sources it simply returns the platform flag.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if m.source.Verified() {
		return m.source.Status().IsOnline
	}
	ok := m.probe(ctx)
	m.onProbeResult(ok)
	return ok
}

// run is the monitor's event loop: heartbeat ticks, platform network
// events and app-lifecycle events.
func (m *Monitor) run(stopCh chan struct{}) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if !m.source.Verified() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stopCh:
			return
		case <-tick:
			// The heartbeat pauses while the platform itself reports offline.
			if m.source.Status().IsOnline {
				m.verify()
			}
		case online, ok := <-m.source.NetworkEvents():
			if !ok {
				return
			}
			m.handleNetworkEvent(online)
		case state, ok := <-m.source.AppStateEvents():
			if !ok {
				return
			}
			m.handleAppStateEvent(state)
		}
	}
}

func (m *Monitor) handleNetworkEvent(online bool) {
	if m.source.Verified() {
		m.setPlatformOnline(online)
		return
	}
	if !online {
		// Going offline is immediate; no probe needed to distrust it.
		m.setPlatformOnline(false)
		return
	}
	// The platform claims online again: verify out of band instead of
	// waiting for the next heartbeat tick.
	m.verify()
}

func (m *Monitor) handleAppStateEvent(state AppState) {
	m.notifyAppState(state)
	// Visibility regain: recover status promptly.
	if state == AppStateActive && !m.source.Verified() && m.source.Status().IsOnline {
		m.verify()
	}
}

// verify probes once and folds the result into the failure counter.
func (m *Monitor) verify() {
	ok := m.probe(context.Background())
	m.onProbeResult(ok)
}

// probe issues a lightweight HEAD request to the configured endpoint.
// A 200 or 401 counts as reachable: 401 still proves the network path
// and server are alive even though the request is unauthenticated.
func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

func (m *Monitor) onProbeResult(ok bool) {
	m.mu.Lock()
	if ok {
		m.failures = 0
	} else {
		m.failures++
		metrics.ProbeFailures.Inc()
		logging.Debug("heartbeat probe failed", map[string]interface{}{
			"consecutive_failures": m.failures,
		})
	}
	m.recomputeLocked()
}

// setPlatformOnline recomputes the public status after a platform edge.
func (m *Monitor) setPlatformOnline(online bool) {
	m.mu.Lock()
	if online {
		// Fresh connection: prior probe failures belong to the old path.
		m.failures = 0
	}
	m.recomputeLocked()
}

// recomputeLocked derives the public status, and on an edge fires the
// network subscribers. Unlocks m.mu.
func (m *Monitor) recomputeLocked() {
	online := m.source.Status().IsOnline
	if !m.source.Verified() {
		online = online && m.failures < m.cfg.FailureThreshold
	}

	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online

	subs := make([]func(bool), 0, len(m.netSubs))
	for _, cb := range m.netSubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	to := "offline"
	if online {
		to = "online"
	}
	metrics.OnlineTransitions.WithLabelValues(to).Inc()
	logging.Info("connectivity status changed", map[string]interface{}{"online": online})

	for _, cb := range subs {
		safeNotifyNetwork(cb, online)
	}
}

func (m *Monitor) notifyAppState(state AppState) {
	m.mu.Lock()
	subs := make([]func(AppState), 0, len(m.appSubs))
	for _, cb := range m.appSubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	for _, cb := range subs {
		safeNotifyAppState(cb, state)
	}
}

// A throwing subscriber must never break delivery to the others.

func safeNotifyNetwork(cb func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("network subscriber panicked", fmt.Errorf("%v", r))
		}
	}()
	cb(online)
}

func safeNotifyAppState(cb func(AppState), state AppState) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("app state subscriber panicked", fmt.Errorf("%v", r))
		}
	}()
	cb(state)
}
