package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
)

const (
	msgInvalidAddress = "Invalid IP address"
	msgNotFound       = "IP not found"
)

// handleSingle serves GET /single?ip=<addr>.
func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")

	result, err := s.service.LookupOne(r.Context(), ip)
	info := toIpInfo(ip, result, err)
	switch {
	case errors.Is(err, lookup.ErrInvalidAddress):
		render.Status(r, http.StatusBadRequest)
	case errors.Is(err, lookup.ErrNotFound):
		render.Status(r, http.StatusNotFound)
	}
	render.JSON(w, r, info)
}

// handleBulk serves POST /bulk {"ips": [...]}.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBatchSize)*bulkBytesPerAddress+bulkEnvelopeBytes)

	var req BulkRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "'ips' must be a non-empty array of addresses")
		return
	}

	if len(req.IPs) > s.cfg.MaxBatchSize {
		s.writeError(w, r, http.StatusRequestEntityTooLarge,
			"at most "+strconv.Itoa(s.cfg.MaxBatchSize)+" addresses are accepted per request")
		return
	}

	items := s.service.LookupMany(r.Context(), req.IPs)
	infos := make([]IpInfo, len(items))
	for i, item := range items {
		infos[i] = toIpInfo(item.Input, item.Result, item.Err)
	}
	render.JSON(w, r, infos)
}

// handleReload serves POST /admin/reload. With ?wait=true the reload runs inline and
// its outcome is returned; otherwise it is queued on the watcher.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		event, err := s.manager.Reload(r.Context())
		if r.Context().Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("reload requested over http failed", zap.Error(err))
		}
		render.JSON(w, r, ReloadResponse{Queued: false, Event: toReloadStatus(event)})
		return
	}

	queued := s.trigger.Trigger()
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ReloadResponse{Queued: queued})
}

// handleStatus serves GET /admin/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.manager.Current()

	resp := StatusResponse{
		Generation:   snapshot.Generation,
		Fingerprint:  snapshot.Fingerprint,
		Records:      snapshot.Stats.Records,
		IPv4Records:  snapshot.Stats.IPv4Records,
		IPv6Records:  snapshot.Stats.IPv6Records,
		IPv4Segments: snapshot.Stats.IPv4Segments,
		IPv6Segments: snapshot.Stats.IPv6Segments,
		Malformed:    snapshot.Malformed,
		CacheEntries: s.manager.Cache().Size(),
	}
	if snapshot.Generation > 0 {
		publishedAt := snapshot.PublishedAt
		resp.PublishedAt = &publishedAt
	}
	if event, ok := s.manager.LastEvent(); ok {
		resp.LastReload = toReloadStatus(event)
	}

	render.JSON(w, r, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

func toIpInfo(input string, result lookup.Result, err error) IpInfo {
	info := IpInfo{IP: input}
	switch {
	case errors.Is(err, lookup.ErrInvalidAddress):
		info.Error = ptr(msgInvalidAddress)
	case errors.Is(err, lookup.ErrNotFound):
		info.Error = ptr(msgNotFound)
	case err != nil:
		info.Error = ptr(err.Error())
	default:
		info.Range = ptr(result.Record.RangeString())
		info.ASN = ptr(result.Record.ASN)
		info.ISP = ptr(result.Record.ISP)
	}
	return info
}

func toReloadStatus(event indexmanager.ReloadEvent) *ReloadStatus {
	status := &ReloadStatus{
		Result:      string(event.Result),
		Generation:  event.Generation,
		DurationMs:  float64(event.Duration.Microseconds()) / 1000,
		CompletedAt: event.CompletedAt,
	}
	if event.Err != nil {
		status.Error = event.Err.Error()
	}
	return status
}

func ptr(s string) *string {
	return &s
}
