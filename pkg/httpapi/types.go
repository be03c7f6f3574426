package httpapi

import "time"

// IpInfo is the answer for one address. Fields not applicable to the outcome are null.
type IpInfo struct {
	IP    string  `json:"ip"`
	Range *string `json:"range"`
	ASN   *string `json:"asn"`
	ISP   *string `json:"isp"`
	Error *string `json:"error"`
}

// BulkRequest is the body of POST /bulk.
type BulkRequest struct {
	IPs []string `json:"ips" validate:"required,min=1"`
}

// ErrorResponse is returned for requests that could not be processed at all.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReloadResponse is returned by POST /admin/reload.
type ReloadResponse struct {
	// Queued reports whether a reload was scheduled; false means one was already pending.
	Queued bool          `json:"queued"`
	Event  *ReloadStatus `json:"event,omitempty"`
}

// ReloadStatus describes one completed reload attempt.
type ReloadStatus struct {
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	Generation  uint64    `json:"generation"`
	DurationMs  float64   `json:"durationMs"`
	CompletedAt time.Time `json:"completedAt"`
}

// StatusResponse is returned by GET /admin/status.
type StatusResponse struct {
	Generation   uint64        `json:"generation"`
	Fingerprint  string        `json:"fingerprint,omitempty"`
	PublishedAt  *time.Time    `json:"publishedAt,omitempty"`
	Records      int           `json:"records"`
	IPv4Records  int           `json:"ipv4Records"`
	IPv6Records  int           `json:"ipv6Records"`
	IPv4Segments int           `json:"ipv4Segments"`
	IPv6Segments int           `json:"ipv6Segments"`
	Malformed    int           `json:"malformed"`
	CacheEntries int           `json:"cacheEntries"`
	LastReload   *ReloadStatus `json:"lastReload,omitempty"`
}
