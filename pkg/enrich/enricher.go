// Package enrich attaches geographic/network metadata to alert addresses.
package enrich

import (
	"context"
	"net/netip"
	"time"

	"mini-siem/pkg/events"
)

// Status says how a Result was produced.
type Status int

const (
	// Enriched came from the cache or a successful lookup.
	Enriched Status = iota
	// Internal is the fixed record for private, loopback and link-local addresses.
	Internal
	// Degraded is the unknown record standing in for a failed lookup.
	Degraded
)

func (s Status) String() string {
	switch s {
	case Enriched:
		return "enriched"
	case Internal:
		return "internal"
	default:
		return "degraded"
	}
}

// Result is the outcome of enriching one address. Record is always usable.
type Result struct {
	Record events.GeoRecord
	Status Status
	Cached bool
	Reason string
}

// Enricher resolves addresses through a Cache and a Lookup. It is meant for a
// single caller; the cache itself tolerates concurrent use.
type Enricher struct {
	cache   *Cache
	lookup  Lookup
	timeout time.Duration
	now     func() time.Time
}

// New returns an enricher. A nil lookup disables external queries; every public
// address then degrades.
func New(cache *Cache, lookup Lookup, timeout time.Duration) *Enricher {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Enricher{cache: cache, lookup: lookup, timeout: timeout, now: time.Now}
}

// Cache returns the enricher's cache.
func (e *Enricher) Cache() *Cache { return e.cache }

// IsInternal reports whether ip is RFC 1918/4193 private, loopback or link-local.
func IsInternal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// Enrich never fails: lookup errors come back as a Degraded result.
func (e *Enricher) Enrich(ctx context.Context, ip string) Result {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Result{Record: events.UnknownRecord(), Status: Degraded, Reason: "invalid address"}
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		return Result{Record: events.InternalRecord(), Status: Internal}
	}
	key := addr.String()
	if rec, ok := e.cache.Get(key); ok {
		return Result{Record: rec, Status: Enriched, Cached: true}
	}
	if e.lookup == nil {
		return Result{Record: events.UnknownRecord(), Status: Degraded, Reason: "lookup disabled"}
	}
	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	rec, err := e.lookup.Lookup(lctx, key)
	if err != nil {
		return Result{Record: events.UnknownRecord(), Status: Degraded, Reason: err.Error()}
	}
	return Result{Record: e.cache.Put(key, rec), Status: Enriched}
}

// EnrichAlert resolves both endpoints of a and replaces its enrichment. Calling
// it again on the same alert just refreshes the values.
func (e *Enricher) EnrichAlert(ctx context.Context, a *events.Alert) (src, dst Result) {
	src = e.Enrich(ctx, a.SrcIP)
	dst = e.Enrich(ctx, a.DstIP)
	a.Enrichment = &events.Enrichment{
		Source:      src.Record,
		Destination: dst.Record,
		Degraded:    src.Status == Degraded || dst.Status == Degraded,
		EnrichedAt:  e.now(),
	}
	return src, dst
}
