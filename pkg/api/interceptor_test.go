package api

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method   string
		readOnly bool
	}{
		{FullMethod(MethodListVolumes), true},
		{FullMethod(MethodGetVolume), true},
		{FullMethod(MethodGetVolumeByDevice), true},
		{FullMethod(MethodGetClusterInfo), true},
		{FullMethod(MethodCreateVolume), false},
		{FullMethod(MethodUpdateVolumeFields), false},
		{FullMethod(MethodDeleteVolume), false},
		{FullMethod(MethodJoinCluster), false},
		{FullMethod(MethodGenerateJoinToken), false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.readOnly, isReadOnlyMethod(tt.method))
		})
	}
}

func TestReadOnlyInterceptor(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	called := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodDeleteVolume)}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.False(t, called)

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodListVolumes)}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, called)
}

func TestMetricsInterceptor_PassesThrough(t *testing.T) {
	interceptor := MetricsInterceptor()
	want := status.Error(codes.NotFound, "volume not found")

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetVolume)},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, want
		})
	assert.Equal(t, want, err)
}

func TestRateLimitInterceptor(t *testing.T) {
	interceptor := RateLimitInterceptor(RateLimit{RequestsPerSecond: 0.001, Burst: 2})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodListVolumes)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	from := func(ip string) context.Context {
		return peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50000}})
	}

	for i := 0; i < 2; i++ {
		_, err := interceptor(from("10.0.0.7"), nil, info, handler)
		require.NoError(t, err, "call %d within burst", i+1)
	}
	_, err := interceptor(from("10.0.0.7"), nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Other hosts have their own budget
	_, err = interceptor(from("10.0.0.8"), nil, info, handler)
	assert.NoError(t, err)
}

func TestRateLimitInterceptor_Disabled(t *testing.T) {
	interceptor := RateLimitInterceptor(RateLimit{})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodListVolumes)}

	for i := 0; i < 100; i++ {
		_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
}
