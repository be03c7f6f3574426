package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookupcache"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
	"github.com/gtriggiano/asn-lookup-service/pkg/source"
)

const records = `10.0.0.0-10.0.0.255,"ISP A",AS1
2001:db8::/112,ISP B,AS2
`

type stubTrigger struct{ calls int }

func (s *stubTrigger) Trigger() bool {
	s.calls++
	return s.calls == 1
}

type fixture struct {
	server  *Server
	handler http.Handler
	trigger *stubTrigger
	path    string
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, publish bool) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ranges.csv")
	if err := os.WriteFile(path, []byte(records), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zaptest.NewLogger(t)
	cache, err := lookupcache.New(128, 0)
	if err != nil {
		t.Fatal(err)
	}
	manager := indexmanager.New(source.NewFile(path), cache, logger)
	if publish {
		if _, err := manager.Reload(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	trigger := &stubTrigger{}
	reg := prometheus.NewRegistry()
	srv := NewServer(config.ServerConfig{Address: ":0", MaxBatchSize: 3}, lookup.New(manager, nil), manager, trigger, logger)
	srv.SetInstrumentation(metrics.NewInstrumentation(reg))

	return &fixture{server: srv, handler: srv.Handler(), trigger: trigger, path: path, reg: reg}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestSingle(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantRange  string
		wantASN    string
		wantISP    string
		wantError  string
	}{
		{name: "found", query: "ip=10.0.0.5", wantStatus: http.StatusOK, wantRange: "10.0.0.0/24", wantASN: "AS1", wantISP: "ISP A", wantError: "<nil>"},
		{name: "ipv6 found", query: "ip=2001:db8::1", wantStatus: http.StatusOK, wantRange: "2001:db8::/112", wantASN: "AS2", wantISP: "ISP B", wantError: "<nil>"},
		{name: "not found", query: "ip=10.0.1.1", wantStatus: http.StatusNotFound, wantRange: "<nil>", wantASN: "<nil>", wantISP: "<nil>", wantError: "IP not found"},
		{name: "invalid", query: "ip=not-an-ip", wantStatus: http.StatusBadRequest, wantRange: "<nil>", wantASN: "<nil>", wantISP: "<nil>", wantError: "Invalid IP address"},
		{name: "missing parameter", query: "", wantStatus: http.StatusBadRequest, wantRange: "<nil>", wantASN: "<nil>", wantISP: "<nil>", wantError: "Invalid IP address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/single?"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			info := decode[IpInfo](t, rec)
			got := []string{deref(info.Range), deref(info.ASN), deref(info.ISP), deref(info.Error)}
			want := []string{tt.wantRange, tt.wantASN, tt.wantISP, tt.wantError}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestSingle_NullFields(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/single?ip=10.0.0.5", "")

	body := strings.TrimSpace(rec.Body.String())
	want := `{"ip":"10.0.0.5","range":"10.0.0.0/24","asn":"AS1","isp":"ISP A","error":null}`
	if body != want {
		t.Fatalf("unexpected body\n got: %s\nwant: %s", body, want)
	}
}

func TestBulk(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/bulk", `{"ips":["10.0.0.5","not-an-ip","10.0.1.1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	infos := decode[[]IpInfo](t, rec)
	if len(infos) != 3 {
		t.Fatalf("expected 3 results, got %d", len(infos))
	}
	if infos[0].IP != "10.0.0.5" || deref(infos[0].ASN) != "AS1" || infos[0].Error != nil {
		t.Fatalf("item 0: unexpected %+v", infos[0])
	}
	if infos[1].IP != "not-an-ip" || deref(infos[1].Error) != "Invalid IP address" {
		t.Fatalf("item 1: unexpected %+v", infos[1])
	}
	if infos[2].IP != "10.0.1.1" || deref(infos[2].Error) != "IP not found" {
		t.Fatalf("item 2: unexpected %+v", infos[2])
	}
}

func TestBulk_Rejections(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "malformed json", body: `{"ips":`, wantStatus: http.StatusBadRequest},
		{name: "missing ips", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "empty ips", body: `{"ips":[]}`, wantStatus: http.StatusBadRequest},
		{name: "too many ips", body: `{"ips":["1.1.1.1","2.2.2.2","3.3.3.3","4.4.4.4"]}`, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "body too large", body: fmt.Sprintf(`{"ips":["%s"]}`, strings.Repeat("a", 32768)), wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/bulk", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Error == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestBulk_LongInvalidEntriesWithinLimit(t *testing.T) {
	f := newFixture(t, false)

	long := strings.Repeat("\\u0061", maxAddressInput)
	body := fmt.Sprintf(`{"ips":["%s","%s","%s"]}`, long, long, long)

	rec := f.do(t, http.MethodPost, "/bulk", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	infos := decode[[]IpInfo](t, rec)
	if len(infos) != 3 {
		t.Fatalf("expected 3 results, got %d", len(infos))
	}
	for i, info := range infos {
		if deref(info.Error) != "Invalid IP address" || len(info.IP) != maxAddressInput {
			t.Fatalf("result %d: unexpected %+v", i, info)
		}
	}
}

func TestAdminReload(t *testing.T) {
	f := newFixture(t, false)

	t.Run("queued", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/admin/reload", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if resp := decode[ReloadResponse](t, rec); !resp.Queued {
			t.Fatal("expected reload to be queued")
		}

		rec = f.do(t, http.MethodPost, "/admin/reload", "")
		if resp := decode[ReloadResponse](t, rec); resp.Queued {
			t.Fatal("expected second trigger to coalesce")
		}
	})

	t.Run("wait", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/admin/reload?wait=true", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decode[ReloadResponse](t, rec)
		if resp.Event == nil || resp.Event.Result != string(indexmanager.ResultPublished) || resp.Event.Generation != 1 {
			t.Fatalf("unexpected reload response %+v", resp.Event)
		}
	})
}

func TestAdminStatus(t *testing.T) {
	t.Run("before first publish", func(t *testing.T) {
		f := newFixture(t, false)
		resp := decode[StatusResponse](t, f.do(t, http.MethodGet, "/admin/status", ""))
		if resp.Generation != 0 || resp.PublishedAt != nil || resp.LastReload != nil {
			t.Fatalf("unexpected status %+v", resp)
		}
	})

	t.Run("after publish", func(t *testing.T) {
		f := newFixture(t, true)
		f.do(t, http.MethodGet, "/single?ip=10.0.0.5", "")

		resp := decode[StatusResponse](t, f.do(t, http.MethodGet, "/admin/status", ""))
		if resp.Generation != 1 || resp.Records != 2 || resp.IPv4Records != 1 || resp.IPv6Records != 1 {
			t.Fatalf("unexpected status %+v", resp)
		}
		if resp.CacheEntries != 1 {
			t.Fatalf("expected 1 cache entry, got %d", resp.CacheEntries)
		}
		if resp.LastReload == nil || resp.LastReload.Result != "published" {
			t.Fatalf("unexpected last reload %+v", resp.LastReload)
		}
	})
}

func TestHTTPInstrumentation(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodGet, "/single?ip=10.0.0.5", "")
	f.do(t, http.MethodGet, "/single?ip=bad", "")

	expected := `
# HELP asn_lookup_http_requests_total Total HTTP API requests by route and status code
# TYPE asn_lookup_http_requests_total counter
asn_lookup_http_requests_total{code="200",route="/single"} 1
asn_lookup_http_requests_total{code="400",route="/single"} 1
`
	if err := testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "asn_lookup_http_requests_total"); err != nil {
		t.Fatal(err)
	}
}
