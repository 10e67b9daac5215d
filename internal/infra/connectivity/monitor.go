// Package connectivity models the online/offline signal as a narrow
// subscription interface so the coordinator's reaction can be unit-tested by
// flipping the state directly.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Monitor tracks the last known connectivity state and fans transitions out
// to subscribers. State changes come either from Set (tests, platform hooks)
// or from the optional HTTP probe loop.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func NewMonitor(initialOnline bool) *Monitor {
	return &Monitor{online: initialOnline, subs: map[int]func(bool){}}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the new state and notifies subscribers on a transition.
// Callbacks run synchronously; subscribers must not block.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	log.Printf("connectivity: online=%v", online)
	for _, fn := range fns {
		fn(online)
	}
}

func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe polls url until ctx is done, treating any HTTP response as online
// and transport errors as offline.
func (m *Monitor) Probe(ctx context.Context, url string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.Set(probeOnce(ctx, client, url))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func probeOnce(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
