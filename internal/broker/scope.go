package broker

import (
	"fmt"
	"sync"

	"s3syncdash/internal/model"
)

// prefixes remembers the destination prefix of each bound session
type prefixes struct {
	mu sync.RWMutex
	m  map[int64]string
}

func (p *prefixes) bind(session *model.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[int64]string)
	}
	p.m[session.ID] = session.Prefix
}

func (p *prefixes) lookup(sessionID int64) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prefix, ok := p.m[sessionID]
	if !ok {
		return "", fmt.Errorf("session %d is not bound to this broker", sessionID)
	}
	return prefix, nil
}
