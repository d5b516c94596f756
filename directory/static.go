package directory

import (
	"context"
	"sync"
)

// Static is an in-memory Directory for tests and small fixed deployments.
type Static struct {
	mu     sync.RWMutex
	users  map[string]struct{}
	groups map[string]*Group
}

func NewStatic() *Static {
	return &Static{
		users:  make(map[string]struct{}),
		groups: make(map[string]*Group),
	}
}

func (s *Static) AddUser(userID string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
	return s
}

func (s *Static) AddGroup(g *Group) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return s
}

func (s *Static) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *Static) Group(_ context.Context, groupID string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}
