package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when a session already has an exchange in flight.
var ErrBusy = errors.New("session has an exchange in flight")

type Store interface {
	// Transcript returns the turns of a session; unknown sessions are empty.
	Transcript(ctx context.Context, id string) (Transcript, error)
	Append(ctx context.Context, id string, turns ...Turn) error
	Reset(ctx context.Context, id string) error
}

// Guard admits at most one in-flight exchange per session.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire marks id busy and returns the release func, or ErrBusy.
func (g *Guard) Acquire(id string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[id]; busy {
		return nil, ErrBusy
	}
	g.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, id)
			g.mu.Unlock()
		})
	}, nil
}
