// Package connectivity maintains a live view of network reachability. Every
// component that issues network calls re-checks the monitor immediately before
// the call and short-circuits with a no-connectivity error when offline.
package connectivity

import (
	"net"
	"strings"
	"sync"
	"time"
)

// Kind is the active network interface kind.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindWired    Kind = "wired"
	KindWireless Kind = "wireless"
	KindNone     Kind = "none"
)

// Status is a point-in-time reachability snapshot.
type Status struct {
	Online bool
	Kind   Kind
}

// Monitor publishes the current reachability status and change notifications.
type Monitor interface {
	Online() bool
	Current() Status
	// Subscribe returns a channel that receives a Status on every change and
	// a cancel function that releases the subscription.
	Subscribe() (<-chan Status, func())
}

// broadcaster implements the subscription bookkeeping shared by both monitor
// implementations.
type broadcaster struct {
	mu      sync.Mutex
	status  Status
	subs    map[int]chan Status
	nextSub int
}

func newBroadcaster(initial Status) *broadcaster {
	return &broadcaster{status: initial, subs: make(map[int]chan Status)}
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.Online
}

func (b *broadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *broadcaster) Subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Status, 1)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// set updates the status and notifies subscribers on change. Slow subscribers
// miss intermediate states rather than blocking the monitor.
func (b *broadcaster) set(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == b.status {
		return
	}
	b.status = s
	for _, sub := range b.subs {
		select {
		case sub <- s:
		default:
		}
	}
}

// NetMonitor derives reachability from the system's network interfaces,
// re-evaluated continuously on a short interval. It starts in the
// assume-online state; the first evaluation corrects it. The monitor itself
// cannot fail: an observation error leaves the previous status in place.
type NetMonitor struct {
	*broadcaster
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewNetMonitor creates and starts a NetMonitor with the given re-evaluation
// interval.
func NewNetMonitor(interval time.Duration) *NetMonitor {
	m := &NetMonitor{
		broadcaster: newBroadcaster(Status{Online: true, Kind: KindUnknown}),
		interval:    interval,
		stop:        make(chan struct{}),
	}
	go m.watch()
	return m
}

func (m *NetMonitor) watch() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.evaluate()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evaluate()
		}
	}
}

func (m *NetMonitor) evaluate() {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}
	m.set(classify(ifaces))
}

// Close stops the observation loop. Idempotent.
func (m *NetMonitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func classify(ifaces []net.Interface) Status {
	kind := KindNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		k := kindForName(iface.Name)
		// Prefer wired over wireless when both are up.
		if kind == KindNone || (kind == KindWireless && k == KindWired) || kind == KindUnknown {
			kind = k
		}
	}
	return Status{Online: kind != KindNone, Kind: kind}
}

func kindForName(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "wl"), strings.HasPrefix(lower, "wifi"), strings.HasPrefix(lower, "ath"):
		return KindWireless
	case strings.HasPrefix(lower, "en"), strings.HasPrefix(lower, "eth"):
		return KindWired
	}
	return KindUnknown
}

// Manual is a Monitor driven by the embedding application, for platforms with
// their own reachability source and for tests.
type Manual struct {
	*broadcaster
}

// NewManual creates a Manual monitor with the given initial status.
func NewManual(online bool, kind Kind) *Manual {
	return &Manual{broadcaster: newBroadcaster(Status{Online: online, Kind: kind})}
}

// Set updates the status and notifies subscribers.
func (m *Manual) Set(online bool, kind Kind) {
	m.set(Status{Online: online, Kind: kind})
}
