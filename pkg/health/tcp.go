package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker checks that an address accepts TCP connections, such as a
// store member's Raft or API address
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP health checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check dials the address and closes the connection right away
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, fmt.Sprintf("connection failed: %v", err))
	}
	conn.Close()

	return passed(start, fmt.Sprintf("TCP connection to %s successful", t.Address))
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Target returns the probed address
func (t *TCPChecker) Target() string {
	return t.Address
}
