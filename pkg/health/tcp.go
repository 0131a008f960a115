package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker opens a connection to a service instance and closes it
// without exchanging data
type TCPChecker struct {
	target Target
	dialer net.Dialer
}

// NewTCPChecker creates a tcp_connect checker for target
func NewTCPChecker(target Target, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TCPChecker{
		target: target,
		dialer: net.Dialer{Timeout: timeout},
	}
}

// Timeout is the deadline of one connection attempt
func (t *TCPChecker) Timeout() time.Duration {
	return t.dialer.Timeout
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Check performs one connect
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	conn, err := t.dialer.DialContext(ctx, "tcp", t.target.Address())
	if err != nil {
		return finish(start, false, fmt.Sprintf("connect %s failed: %v", t.target, err))
	}
	_ = conn.Close()

	return finish(start, true, fmt.Sprintf("connected to %s", t.target))
}
