package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mini-siem/pkg/events"
)

// Lookup resolves one public address to geo/network metadata.
type Lookup interface {
	Lookup(ctx context.Context, ip string) (events.GeoRecord, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, ip string) (events.GeoRecord, error)

func (f LookupFunc) Lookup(ctx context.Context, ip string) (events.GeoRecord, error) {
	return f(ctx, ip)
}

const (
	DefaultLookupURL = "http://ip-api.com/json/"
	maxBody          = 64 * 1024
)

// ipAPIFields limits the ip-api.com response to what GeoRecord needs.
const ipAPIFields = "status,message,country,countryCode,region,regionName,city,lat,lon,timezone,isp,org,as,proxy"

// HTTPLookup queries an ip-api.com compatible JSON endpoint: GET <base><ip>.
type HTTPLookup struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPLookup returns a lookup against base (default ip-api.com). perMinute > 0
// caps outbound requests; a request that would exceed it fails rather than waits.
func NewHTTPLookup(base string, timeout time.Duration, perMinute int) *HTTPLookup {
	if base == "" {
		base = DefaultLookupURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := &HTTPLookup{base: base, client: &http.Client{Timeout: timeout}}
	if perMinute > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
	return h
}

// ErrRateLimited is returned when the outbound budget is spent.
var ErrRateLimited = errors.New("enrich: lookup rate limit reached")

type ipAPIResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	RegionName  string   `json:"regionName"`
	City        string   `json:"city"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Timezone    string   `json:"timezone"`
	ISP         string   `json:"isp"`
	Org         string   `json:"org"`
	AS          string   `json:"as"`
	Proxy       bool     `json:"proxy"`
}

func (h *HTTPLookup) Lookup(ctx context.Context, ip string) (events.GeoRecord, error) {
	if h.limiter != nil && !h.limiter.Allow() {
		return events.GeoRecord{}, ErrRateLimited
	}
	u := h.base + url.PathEscape(ip) + "?fields=" + ipAPIFields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return events.GeoRecord{}, fmt.Errorf("enrich: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return events.GeoRecord{}, fmt.Errorf("enrich: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return events.GeoRecord{}, fmt.Errorf("enrich: lookup returned %s", resp.Status)
	}
	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return events.GeoRecord{}, fmt.Errorf("enrich: decode: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return events.GeoRecord{}, fmt.Errorf("enrich: lookup %s: %s", ip, orDefault(body.Message, body.Status))
	}
	return mapIPAPI(body), nil
}

// mapIPAPI fills every field, falling back to the unknown record's values.
func mapIPAPI(b ipAPIResponse) events.GeoRecord {
	u := events.UnknownRecord()
	region := b.RegionName
	if region == "" {
		region = b.Region
	}
	return events.GeoRecord{
		Country:     orDefault(b.Country, u.Country),
		CountryCode: orDefault(b.CountryCode, u.CountryCode),
		Region:      orDefault(region, u.Region),
		City:        orDefault(b.City, u.City),
		Latitude:    b.Lat,
		Longitude:   b.Lon,
		Org:         orDefault(b.Org, u.Org),
		ASN:         orDefault(b.AS, u.ASN),
		ISP:         orDefault(b.ISP, u.ISP),
		Timezone:    orDefault(b.Timezone, u.Timezone),
		Proxy:       b.Proxy,
	}
}

func orDefault(s, d string) string {
	if s = strings.TrimSpace(s); s == "" {
		return d
	}
	return s
}
