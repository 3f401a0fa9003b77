package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avelov/tg-pulse/domains/discussion"
)

type mapEntry struct {
	link      discussion.Link
	expiresAt time.Time
}

// MemoryDiscussionMap is the in-memory discussion link store. Used as the
// default when Valkey is not enabled; links survive only as long as the
// process, which is fine because every auto-forward re-derives them.
type MemoryDiscussionMap struct {
	mu      sync.RWMutex
	entries map[string]mapEntry
	now     func() time.Time
}

func NewMemoryDiscussionMap() *MemoryDiscussionMap {
	store := &MemoryDiscussionMap{
		entries: make(map[string]mapEntry),
		now:     time.Now,
	}
	go store.cleanupLoop()
	return store
}

func mapKey(channelID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", channelID, messageID)
}

func (s *MemoryDiscussionMap) Put(ctx context.Context, channelID int64, messageID int, link discussion.Link, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[mapKey(channelID, messageID)] = mapEntry{
		link:      link,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryDiscussionMap) Get(ctx context.Context, channelID int64, messageID int) (*discussion.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[mapKey(channelID, messageID)]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, nil
	}
	link := entry.link
	return &link, nil
}

func (s *MemoryDiscussionMap) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := s.now()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

var _ discussion.IMapStore = (*MemoryDiscussionMap)(nil)
