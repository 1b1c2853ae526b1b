package healthcheck

import (
	"net/url"
	"sync"
)

// Target is a proxy backend whose reachability is being tracked.
type Target struct {
	route     string
	url       *url.URL
	mutex     sync.Mutex
	isHealthy bool
}

// NewTarget creates a target for the proxy route mounted at route.
// The target starts out reachable.
func NewTarget(route string, u *url.URL) *Target {
	return &Target{
		route:     route,
		url:       u,
		isHealthy: true,
	}
}

// Route returns the mount path of the proxy route.
func (t *Target) Route() string {
	return t.route
}

// URL returns the backend URL.
func (t *Target) URL() *url.URL {
	return t.url
}

// IsHealthy returns true if the last probe reached the backend.
func (t *Target) IsHealthy() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.isHealthy
}

// SetHealthy updates the reachability status.
// Returns true if the status changed, false if it was already in that state.
func (t *Target) SetHealthy(healthy bool) (changed bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.isHealthy == healthy {
		return false
	}

	t.isHealthy = healthy
	return true
}
