package orchestrator

import (
	"sync"

	"s3syncdash/internal/model"
)

// ProgressMap is the per-file tri-state progress map keyed by destination key.
// It may be read while a run is in flight.
type ProgressMap struct {
	mu     sync.RWMutex
	states map[string]model.FileState
}

// NewProgressMap creates an empty progress map
func NewProgressMap() *ProgressMap {
	return &ProgressMap{states: make(map[string]model.FileState)}
}

func (p *ProgressMap) reset(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = make(map[string]model.FileState, len(keys))
	for _, k := range keys {
		p.states[k] = model.FilePending
	}
}

func (p *ProgressMap) set(key string, state model.FileState) {
	p.mu.Lock()
	p.states[key] = state
	p.mu.Unlock()
}

// State returns the state of one key
func (p *ProgressMap) State(key string) (model.FileState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.states[key]
	return s, ok
}

// Snapshot returns a copy of the map
func (p *ProgressMap) Snapshot() map[string]model.FileState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]model.FileState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// Counts returns the number of pending, uploaded and failed keys
func (p *ProgressMap) Counts() (pending, uploaded, failed int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.states {
		switch s {
		case model.FilePending:
			pending++
		case model.FileUploaded:
			uploaded++
		case model.FileFailed:
			failed++
		}
	}
	return
}
