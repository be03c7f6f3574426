package envoyauthz

import (
	"context"
	"net/netip"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
)

// Upstream headers set on covered requests.
const (
	HeaderASN   = "x-client-asn"
	HeaderISP   = "x-client-isp"
	HeaderRange = "x-client-range"
)

type authorizationService struct {
	authv3.UnimplementedAuthorizationServer
	service *lookup.Service
	logger  *zap.Logger
}

// Check never denies. Lookup failures only mean no headers are added.
func (s *authorizationService) Check(ctx context.Context, req *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	ip := requestIpAddress(req)
	if !ip.IsValid() {
		s.logger.Debug("check request without a usable source address")
		return okResponse(nil), nil
	}

	result, err := s.service.LookupOneAs(ctx, metrics.ENVOY, ip.String())
	if err != nil {
		s.logger.Debug("no ownership data for client", zap.String("ip", ip.String()), zap.Error(err))
		return okResponse(nil), nil
	}

	return okResponse([]*corev3.HeaderValueOption{
		header(HeaderASN, result.Record.ASN),
		header(HeaderISP, result.Record.ISP),
		header(HeaderRange, result.Record.RangeString()),
	}), nil
}

func okResponse(headers []*corev3.HeaderValueOption) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: status.New(codes.OK, "ok").Proto(),
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{Headers: headers},
		},
	}
}

func header(key, value string) *corev3.HeaderValueOption {
	return &corev3.HeaderValueOption{
		AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		Header: &corev3.HeaderValue{
			Key:   key,
			Value: value,
		},
	}
}

// requestIpAddress extracts the downstream client IP address from the CheckRequest
// and returns the zero-value netip.Addr when the IP cannot be determined.
func requestIpAddress(req *authv3.CheckRequest) netip.Addr {
	socketAddr := req.GetAttributes().GetSource().GetAddress().GetSocketAddress()
	if socketAddr == nil {
		return netip.Addr{}
	}

	ip, err := netip.ParseAddr(socketAddr.GetAddress())
	if err != nil {
		return netip.Addr{}
	}
	return ip
}
