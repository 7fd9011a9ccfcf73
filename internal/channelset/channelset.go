// Package channelset tracks the set of live channels a broker process is
// hosting, so the ops server and CLI can look channels up by name.
package channelset

import (
	"sort"
	"sync"

	"github.com/shashiranjanraj/chanpage/internal/paging"
)

// Set is a concurrency-safe registry of named ChannelCores.
type Set struct {
	mu       sync.RWMutex
	channels map[string]*paging.ChannelCore
}

// New returns an empty Set.
func New() *Set {
	return &Set{channels: make(map[string]*paging.ChannelCore)}
}

// Add registers core under its own ID. Replaces any previous entry with
// the same ID without closing it — callers that replace a channel are
// responsible for closing the old one.
func (s *Set) Add(core *paging.ChannelCore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[core.ID()] = core
}

// Remove drops a channel from the set without closing it.
func (s *Set) Remove(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
}

// Lookup returns the channel registered under channelID.
func (s *Set) Lookup(channelID string) (*paging.ChannelCore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channelID]
	return c, ok
}

// IDs returns every registered channel ID, sorted.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll shuts down every channel's serializer. Call during graceful
// shutdown.
func (s *Set) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		c.Close()
	}
}
