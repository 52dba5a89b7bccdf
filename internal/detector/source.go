package detector

import (
	"context"
	"sync"

	"bookcal/internal/zones"
)

// StaticSource serves whatever page was last pushed into it, for callers
// that deliver page content themselves (HTTP API, tests).
type StaticSource struct {
	mu   sync.RWMutex
	page *zones.Page
}

// Set replaces the current page.
func (s *StaticSource) Set(p *zones.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

func (s *StaticSource) Snapshot(context.Context) (*zones.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page, nil
}
