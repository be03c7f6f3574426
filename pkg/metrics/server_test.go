package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
)

type stubCheck struct {
	name string
	err  error
}

func (s stubCheck) Name() string                      { return s.name }
func (s stubCheck) HealthCheck(context.Context) error { return s.err }

func newTestServer(t *testing.T, checks ...HealthChecker) *Server {
	t.Helper()
	srv := NewServer(config.MetricsConfig{
		Address:       ":0",
		HealthPath:    "/healthz",
		ReadinessPath: "/readyz",
		DropPrefixes:  []string{"go_", "process_", "promhttp_"},
	}, zaptest.NewLogger(t))
	srv.AddHealthChecks(checks...)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)
	if rec := get(t, srv.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	t.Run("not ready until serving", func(t *testing.T) {
		srv := newTestServer(t, stubCheck{name: "index"})
		if rec := get(t, srv.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("ready when every check passes", func(t *testing.T) {
		srv := newTestServer(t, stubCheck{name: "index"}, stubCheck{name: "source"})
		srv.SetReady(true)
		rec := get(t, srv.Handler(), "/readyz")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if body := rec.Body.String(); body != "ready" {
			t.Fatalf("unexpected body %q", body)
		}
	})

	t.Run("failing check reports not ready", func(t *testing.T) {
		srv := newTestServer(t, stubCheck{name: "index", err: errors.New("no index published")})
		srv.SetReady(true)
		rec := get(t, srv.Handler(), "/readyz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.Instrumentation().ObserveLookup(SINGLE, FOUND)

	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `asn_lookup_lookups_total{kind="SINGLE",result="FOUND"} 1`) {
		t.Errorf("expected lookup counter in output, got:\n%s", body)
	}
	if strings.Contains(body, "go_goroutines") {
		t.Error("expected go_ metrics to be filtered out")
	}
}
