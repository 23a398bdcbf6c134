package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Health is the probed liveness of one backend.
type Health string

const (
	// HealthUnknown means the backend has never been probed successfully.
	HealthUnknown Health = "unknown"
	// HealthHealthy means the last probe returned 2xx.
	HealthHealthy Health = "healthy"
	// HealthUnhealthy means the last probe failed or returned non-2xx.
	HealthUnhealthy Health = "unhealthy"
)

const probeTimeout = 2 * time.Second

type probeEntry struct {
	health   Health
	probedAt time.Time
}

// Prober checks backend /health endpoints and caches results with a TTL.
// Concurrent probes for the same backend coalesce into a single request.
type Prober struct {
	httpClient *http.Client
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]probeEntry
	group singleflight.Group
}

// NewProber builds a prober with the given cache TTL.
func NewProber(ttl time.Duration) *Prober {
	return &Prober{
		httpClient: &http.Client{Timeout: probeTimeout},
		ttl:        ttl,
		cache:      make(map[string]probeEntry),
	}
}

// Health returns the health of the backend at baseURL, probing it if the
// cached result is stale. Concurrent callers for the same backend share one
// probe.
func (p *Prober) Health(ctx context.Context, baseURL string) Health {
	p.mu.RLock()
	entry, ok := p.cache[baseURL]
	p.mu.RUnlock()
	if ok && time.Since(entry.probedAt) < p.ttl {
		return entry.health
	}

	result, _, _ := p.group.Do(baseURL, func() (interface{}, error) {
		health := p.probe(ctx, baseURL)
		p.mu.Lock()
		p.cache[baseURL] = probeEntry{health: health, probedAt: time.Now()}
		p.mu.Unlock()
		return health, nil
	})
	return result.(Health)
}

// HealthCached returns the cached health without ever blocking on a probe.
// A stale or missing entry kicks off a background refresh, coalesced with
// any in-flight probe, so repeated readers converge on the live value.
func (p *Prober) HealthCached(baseURL string) Health {
	health, probedAt := p.Cached(baseURL)
	if time.Since(probedAt) >= p.ttl {
		go p.Health(context.Background(), baseURL)
	}
	return health
}

// Cached returns the cached health without probing. Backends never probed
// report unknown.
func (p *Prober) Cached(baseURL string) (Health, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.cache[baseURL]
	if !ok {
		return HealthUnknown, time.Time{}
	}
	return entry.health, entry.probedAt
}

// Invalidate drops the cached entry for a backend, forcing the next read to
// probe. Called after container stops so status does not report a healthy
// backend that was just torn down.
func (p *Prober) Invalidate(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, baseURL)
}

// probe issues GET {base}/health. Connection-level failures are retried once
// after a short backoff; the probe is an idempotent GET so the retry is safe.
func (p *Prober) probe(ctx context.Context, baseURL string) Health {
	health, retryable := p.probeOnce(ctx, baseURL)
	if health == HealthUnhealthy && retryable {
		select {
		case <-ctx.Done():
			return HealthUnhealthy
		case <-time.After(1 * time.Second):
		}
		health, _ = p.probeOnce(ctx, baseURL)
	}
	return health
}

func (p *Prober) probeOnce(ctx context.Context, baseURL string) (Health, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return HealthUnhealthy, false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Debugf("health probe failed for %s: %v", baseURL, err)
		return HealthUnhealthy, isConnectionError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return HealthHealthy, false
	}
	return HealthUnhealthy, false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
