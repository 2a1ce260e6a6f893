package interceptor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/sekeys/internal/metrics"
)

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/sekeys.v1.KeyService/GenerateKey"}

func okHandler(ctx context.Context, req any) (any, error) { return "ok", nil }

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeStream) Context() context.Context { return s.ctx }

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestAuthUnary(t *testing.T) {
	auth := AuthUnary("secret")

	tests := []struct {
		name string
		ctx  context.Context
		code codes.Code
	}{
		{"valid", incoming("authorization", "Bearer secret"), codes.OK},
		{"no metadata", context.Background(), codes.Unauthenticated},
		{"no header", incoming("x-other", "v"), codes.Unauthenticated},
		{"not bearer", incoming("authorization", "Basic secret"), codes.Unauthenticated},
		{"wrong token", incoming("authorization", "Bearer nope"), codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := auth(tt.ctx, nil, unaryInfo, okHandler)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.code == codes.OK {
				assert.Equal(t, "ok", resp)
			}
		})
	}
}

func TestAuthStream(t *testing.T) {
	auth := AuthStream("secret")
	info := &grpc.StreamServerInfo{FullMethod: "/sekeys.v1.AuditService/StreamAudit"}
	called := false
	handler := func(srv any, ss grpc.ServerStream) error {
		called = true
		return nil
	}

	err := auth(nil, &fakeStream{ctx: incoming("authorization", "Bearer bad")}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.False(t, called)

	err = auth(nil, &fakeStream{ctx: incoming("authorization", "Bearer secret")}, info, handler)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithBearer(t *testing.T) {
	ctx := WithBearer(context.Background(), "tok")
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"Bearer tok"}, md.Get("authorization"))
}

func TestRateLimitUnary(t *testing.T) {
	limit := RateLimitUnary(3)

	for i := range 3 {
		_, err := limit(context.Background(), nil, unaryInfo, okHandler)
		require.NoError(t, err, "request %d", i)
	}
	_, err := limit(context.Background(), nil, unaryInfo, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRateLimitStream(t *testing.T) {
	limit := RateLimitStream(1)
	info := &grpc.StreamServerInfo{FullMethod: "/sekeys.v1.SigningService/StreamSign"}
	handler := func(srv any, ss grpc.ServerStream) error { return nil }
	ss := &fakeStream{ctx: context.Background()}

	require.NoError(t, limit(nil, ss, info, handler))
	assert.Equal(t, codes.ResourceExhausted, status.Code(limit(nil, ss, info, handler)))
}

func TestRecoveryUnary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := RecoveryUnary(logger)(context.Background(), nil, unaryInfo, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "boom")
}

func TestRecoveryStream(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	info := &grpc.StreamServerInfo{FullMethod: "/sekeys.v1.KeyService/WatchKeyEvents"}

	err := RecoveryStream(logger)(nil, &fakeStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
		panic("stream boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingUnary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := LoggingUnary(logger)(context.Background(), nil, unaryInfo, okHandler)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "method=/sekeys.v1.KeyService/GenerateKey")
	assert.Contains(t, buf.String(), "code=OK")

	buf.Reset()
	_, err = LoggingUnary(logger)(context.Background(), nil, unaryInfo, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "code=NotFound")
}

func TestMetricsUnary(t *testing.T) {
	method := "/sekeys.v1.RandomService/GetRandom"
	counter := metrics.GRPCRequestsTotal.WithLabelValues(method, codes.InvalidArgument.String())
	before := testutil.ToFloat64(counter)

	_, err := MetricsUnary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.InvalidArgument, "bad length")
	})
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestPeerAddressUnknown(t *testing.T) {
	assert.Equal(t, "", PeerAddress(context.Background()))
}
