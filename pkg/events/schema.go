package events

import "time"

// GeoRecord is the geographic/network metadata for one address.
type GeoRecord struct {
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Org         string    `json:"org"`
	ASN         string    `json:"asn"`
	ISP         string    `json:"isp"`
	Timezone    string    `json:"timezone"`
	Proxy       bool      `json:"is_vpn"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
}

// Enrichment is attached to an alert by the enrichment stage.
type Enrichment struct {
	Source      GeoRecord `json:"src"`
	Destination GeoRecord `json:"dst"`
	// Degraded is set when either side fell back to the unknown record.
	Degraded   bool      `json:"degraded,omitempty"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// UnknownRecord is returned when a lookup fails or the address is unusable.
func UnknownRecord() GeoRecord {
	return GeoRecord{
		Country:     "Unknown",
		CountryCode: "XX",
		Region:      "Unknown",
		City:        "Unknown",
		Org:         "Unknown",
		ASN:         "Unknown",
		ISP:         "Unknown",
		Timezone:    "Unknown",
	}
}

// InternalRecord is the fixed record for private, loopback and link-local addresses.
func InternalRecord() GeoRecord {
	return GeoRecord{
		Country:     "Private",
		CountryCode: "XX",
		Region:      "Private Range",
		City:        "Internal Network",
		Org:         "Internal",
		ASN:         "Internal",
		ISP:         "Internal",
		Timezone:    "Unknown",
	}
}
