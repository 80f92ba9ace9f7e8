package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// tenantHeader names the header carrying a tenant identity for
// per-tenant rate limiting, matching the Header authenticator's
// default (spec §6.3's X-Scope-OrgID convention).
const tenantHeader = "X-Scope-OrgID"

// tenantLimiter buckets write traffic per tenant, grounded on the
// teacher's per-connection token-bucket throttle in ingest/muxer.go
// (rate limiting is configured globally there; here it is keyed by
// tenant since the HTTP surface is multi-tenant per §6.3).
type tenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	return &tenantLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (t *tenantLimiter) allow(tenant string) bool {
	t.mu.Lock()
	lim, ok := t.limiters[tenant]
	if !ok {
		lim = rate.NewLimiter(t.rps, t.burst)
		t.limiters[tenant] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

// EnableRateLimit turns on per-tenant write throttling at rps requests
// per second with the given burst, enforced on /api/v1/write.
func (s *Server) EnableRateLimit(rps float64, burst int) {
	s.limiter = newTenantLimiter(rps, burst)
}

func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	tenant := r.Header.Get(tenantHeader)
	if s.limiter.allow(tenant) {
		return true
	}
	err := errs.New(errs.ResourceExhausted, "rate limit exceeded for tenant %q", tenant)
	writeJSONError(w, http.StatusTooManyRequests, err.Error())
	return false
}
