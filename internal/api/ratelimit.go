package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
)

// deviceLimiter holds one token bucket per device so a stuck button on one
// tablet cannot flood a phone with recording requests.
type deviceLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newDeviceLimiter(cfg config.ActionRateLimitCfg) *deviceLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &deviceLimiter{
		enabled:  cfg.Enabled && cfg.RequestsPerSec > 0,
		limit:    rate.Limit(cfg.RequestsPerSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *deviceLimiter) get(hostID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[hostID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[hostID] = lim
	}
	return lim
}

// rateLimitMiddleware answers 429 when the device in the route has used
// up its action budget.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.enabled {
			next.ServeHTTP(w, r)
			return
		}

		hostID := hostIDParam(r)
		res := s.limiter.get(hostID).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many actions for "+hostID)
			return
		}
		next.ServeHTTP(w, r)
	})
}
