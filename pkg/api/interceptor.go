package api

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// maxLimiters bounds how many per-client limiters are kept before they are reset
const maxLimiters = 10000

// RateLimit caps calls per client host. A zero RequestsPerSecond disables it.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RateLimitInterceptor rejects calls from a client host that exceeds limit
// with ResourceExhausted
func RateLimitInterceptor(limit RateLimit) grpc.UnaryServerInterceptor {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if limit.RequestsPerSecond <= 0 {
			return handler(ctx, req)
		}

		client := clientHost(ctx)

		mu.Lock()
		limiter, ok := limiters[client]
		if !ok {
			if len(limiters) >= maxLimiters {
				limiters = make(map[string]*rate.Limiter)
			}
			limiter = rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), burst)
			limiters[client] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			log.Logger.Warn().
				Str("client", client).
				Str("method", info.FullMethod).
				Msg("Rate limit exceeded")
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", client)
		}
		return handler(ctx, req)
	}
}

// clientHost returns the host part of the calling peer's address
func clientHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the monitoring listener so dashboards cannot change volume state.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on the read-only listener - use the cluster API address",
			)
		}

		return handler(ctx, req)
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	// Extract method name from full path (e.g., "/burrow.v1.VolumeStore/ListVolumes" -> "ListVolumes")
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	for _, prefix := range []string{"List", "Get"} {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}

	// Default: block
	return false
}

// MetricsInterceptor counts and times every unary call
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}
