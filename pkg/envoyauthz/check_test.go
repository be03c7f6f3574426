package envoyauthz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"

	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
	"github.com/gtriggiano/asn-lookup-service/pkg/source"
)

func newService(t *testing.T) *authorizationService {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ranges.csv")
	if err := os.WriteFile(path, []byte("203.0.113.0/24,Example Transit,AS64500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zaptest.NewLogger(t)
	manager := indexmanager.New(source.NewFile(path), nil, logger)
	if _, err := manager.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &authorizationService{service: lookup.New(manager, nil), logger: logger}
}

func minimalCheckRequest(ip string) *authv3.CheckRequest {
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Source: &authv3.AttributeContext_Peer{
				Address: &corev3.Address{
					Address: &corev3.Address_SocketAddress{
						SocketAddress: &corev3.SocketAddress{
							Address: ip,
						},
					},
				},
			},
		},
	}
}

func headersOf(t *testing.T, resp *authv3.CheckResponse) map[string]string {
	t.Helper()
	if code := codes.Code(resp.GetStatus().GetCode()); code != codes.OK {
		t.Fatalf("expected OK status, got %s", code)
	}
	ok := resp.GetOkResponse()
	if ok == nil {
		t.Fatal("expected an OK http response")
	}
	headers := map[string]string{}
	for _, h := range ok.GetHeaders() {
		if h.GetAppendAction() != corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD {
			t.Fatalf("unexpected append action for %s", h.GetHeader().GetKey())
		}
		headers[h.GetHeader().GetKey()] = h.GetHeader().GetValue()
	}
	return headers
}

func TestCheck(t *testing.T) {
	svc := newService(t)

	tests := []struct {
		name        string
		req         *authv3.CheckRequest
		wantHeaders map[string]string
	}{
		{
			name: "covered address",
			req:  minimalCheckRequest("203.0.113.10"),
			wantHeaders: map[string]string{
				HeaderASN:   "AS64500",
				HeaderISP:   "Example Transit",
				HeaderRange: "203.0.113.0/24",
			},
		},
		{name: "uncovered address", req: minimalCheckRequest("198.51.100.1"), wantHeaders: map[string]string{}},
		{name: "unparsable address", req: minimalCheckRequest("unix:/tmp/sock"), wantHeaders: map[string]string{}},
		{name: "no attributes", req: &authv3.CheckRequest{}, wantHeaders: map[string]string{}},
		{name: "nil request", req: nil, wantHeaders: map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Check(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := headersOf(t, resp)
			if len(got) != len(tt.wantHeaders) {
				t.Fatalf("expected headers %v, got %v", tt.wantHeaders, got)
			}
			for k, v := range tt.wantHeaders {
				if got[k] != v {
					t.Fatalf("header %s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}
