package region

import (
	"strings"
	"sync"
)

// Region identifies a regional Selenium hub
type Region string

const (
	RegionGlobal Region = "global"
	RegionUS     Region = "us"
	RegionEU     Region = "eu"
	RegionAP     Region = "ap"
)

// Hub is a Selenium hub endpoint for a region
type Hub struct {
	Region Region
	Host   string
}

// Manager resolves requested regions to hub hosts
type Manager struct {
	hubs map[Region]Hub
	mu   sync.RWMutex
}

// NewManager creates a manager preloaded with the known hubs
func NewManager() *Manager {
	manager := &Manager{
		hubs: make(map[Region]Hub),
	}

	hubs := []Hub{
		{RegionGlobal, "hub.browserstack.com"},
		{RegionUS, "hub-use.browserstack.com"},
		{RegionEU, "hub-euw.browserstack.com"},
		{RegionAP, "hub-apse.browserstack.com"},
	}
	for _, h := range hubs {
		manager.hubs[h.Region] = h
	}

	return manager
}

// Register adds or replaces a hub, e.g. a private grid
func (m *Manager) Register(hub Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hubs[hub.Region] = hub
}

// Route determines the hub for a requested region, falling back to the
// global hub for unknown or empty regions
func (m *Manager) Route(requested string) Hub {
	region := Region(strings.ToLower(strings.TrimSpace(requested)))

	m.mu.RLock()
	defer m.mu.RUnlock()

	if hub, exists := m.hubs[region]; exists {
		return hub
	}
	return m.hubs[RegionGlobal]
}
