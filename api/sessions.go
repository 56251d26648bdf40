package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const sessionCookie = "makrai_session"

// sessionID returns the caller's session id, issuing a new one when the
// request carries none or an invalid one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := existingSessionID(r); ok {
		return id
	}
	return s.issueSession(w)
}

func existingSessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func (s *Server) issueSession(w http.ResponseWriter) string {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// limiterSet holds one token bucket per session. Buckets idle for longer
// than ttl are dropped; a dropped bucket comes back full, which is what it
// would have refilled to anyway.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*sessionLimiter
}

type sessionLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(perSecond float64, burst int, ttl time.Duration) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		ttl:       ttl,
		now:       time.Now,
		lastSweep: time.Now(),
		limiters:  make(map[string]*sessionLimiter),
	}
}

func (l *limiterSet) allow(id string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	now := l.now()
	if l.ttl > 0 && now.Sub(l.lastSweep) >= l.ttl {
		l.sweep(now)
	}
	limiter, ok := l.limiters[id]
	if !ok {
		limiter = &sessionLimiter{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[id] = limiter
	}
	limiter.lastSeen = now
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

func (l *limiterSet) forget(id string) {
	l.mu.Lock()
	delete(l.limiters, id)
	l.mu.Unlock()
}

func (l *limiterSet) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep drops idle buckets. Callers hold mu.
func (l *limiterSet) sweep(now time.Time) {
	l.lastSweep = now
	for id, limiter := range l.limiters {
		if now.Sub(limiter.lastSeen) > l.ttl {
			delete(l.limiters, id)
		}
	}
}
