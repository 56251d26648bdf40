package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps transcripts in process. With an idle TTL, a session
// not touched for longer than the TTL is dropped.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*memoryEntry
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type memoryEntry struct {
	transcript Transcript
	lastSeen   time.Time
}

type MemoryOption func(*MemoryStore)

// WithIdleTTL drops sessions idle for longer than ttl. Zero keeps them
// until Reset.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.idleTTL = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{sessions: make(map[string]*memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

func (s *MemoryStore) Transcript(_ context.Context, id string) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.touch(id, false)
	if entry == nil {
		return nil, nil
	}
	return append(Transcript(nil), entry.transcript...), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.touch(id, true)
	entry.transcript = entry.transcript.Append(turns...)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Len reports how many sessions are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops every session idle for longer than the TTL and returns how
// many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.now())
}

// touch returns the live entry for id, expiring it first when idle. It
// sweeps the whole map at most once per TTL. Callers hold mu.
func (s *MemoryStore) touch(id string, create bool) *memoryEntry {
	now := s.now()
	if s.idleTTL > 0 && now.Sub(s.lastSweep) >= s.idleTTL {
		s.sweep(now)
	}

	entry, ok := s.sessions[id]
	if ok && s.expired(entry, now) {
		delete(s.sessions, id)
		entry, ok = nil, false
	}
	if !ok {
		if !create {
			return nil
		}
		entry = &memoryEntry{}
		s.sessions[id] = entry
	}
	entry.lastSeen = now
	return entry
}

func (s *MemoryStore) sweep(now time.Time) int {
	s.lastSweep = now
	dropped := 0
	for id, entry := range s.sessions {
		if s.expired(entry, now) {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}

func (s *MemoryStore) expired(entry *memoryEntry, now time.Time) bool {
	return s.idleTTL > 0 && now.Sub(entry.lastSeen) > s.idleTTL
}

var _ Store = (*MemoryStore)(nil)
