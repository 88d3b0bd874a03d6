package connectivity

import "sync"

// AppState represents an app-lifecycle state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
)

// Status is the connectivity status exposed to consumers.
type Status struct {
	IsOnline       bool
	ConnectionType string // wifi, cellular, unknown; empty when offline
}

// Source abstracts the platform connectivity primitives the monitor
// observes: the raw online flag, network-change events, and
// foreground/background transitions.
type Source interface {
	// Status reports the platform's own view of connectivity.
	Status() Status
	// NetworkEvents emits the platform online flag on change.
	NetworkEvents() <-chan bool
	// AppStateEvents emits app-lifecycle transitions.
	AppStateEvents() <-chan AppState
	// Verified reports whether Status alone is trustworthy. Native
	// connectivity APIs are authoritative; the browser online flag is
	// not and needs heartbeat verification layered on top.
	Verified() bool
}

// ChannelSource is a channel-driven Source. Host integrations push
// platform transitions into it through SetOnline and SetAppState; when
// nothing feeds it the monitor's heartbeat carries the signal alone.
// Tests drive it the same way.
type ChannelSource struct {
	mu       sync.Mutex
	status   Status
	verified bool
	netCh    chan bool
	appCh    chan AppState
}

// NewChannelSource creates a ChannelSource with the given initial state.
func NewChannelSource(online, verified bool) *ChannelSource {
	return &ChannelSource{
		status:   Status{IsOnline: online, ConnectionType: connType(online)},
		verified: verified,
		netCh:    make(chan bool, 8),
		appCh:    make(chan AppState, 8),
	}
}

func connType(online bool) string {
	if online {
		return "wifi"
	}
	return ""
}

func (s *ChannelSource) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ChannelSource) NetworkEvents() <-chan bool {
	return s.netCh
}

func (s *ChannelSource) AppStateEvents() <-chan AppState {
	return s.appCh
}

func (s *ChannelSource) Verified() bool {
	return s.verified
}

// SetOnline updates the platform flag and emits a network event.
func (s *ChannelSource) SetOnline(online bool) {
	s.mu.Lock()
	s.status = Status{IsOnline: online, ConnectionType: connType(online)}
	s.mu.Unlock()
	s.netCh <- online
}

// SetAppState emits an app-lifecycle transition.
func (s *ChannelSource) SetAppState(state AppState) {
	s.appCh <- state
}
