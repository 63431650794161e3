package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// ErrBlockedTarget is returned by the guarded dialer when the resolved
// address is one the server must never dial on a user's behalf.
var ErrBlockedTarget = errors.New("probe: target address not allowed")

// dialFunc matches both pgconn.Config.DialFunc and mysql.Config.DialFunc.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// TARGET GUARD:
// A connection's host is user input, so a probe could otherwise be aimed
// at the server itself or at the cloud metadata endpoint. The check runs
// in net.Dialer.Control, after DNS resolution, so a hostname that
// resolves to a blocked address is caught too.
//
// Always blocked: unspecified, link-local and multicast addresses.
// Loopback is blocked unless allowLoopback is set (local development).
// Private ranges stay allowed; that is where databases usually live.
func newGuardedDialer(timeout time.Duration, allowLoopback bool) dialFunc {
	d := &net.Dialer{
		Timeout: timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			return checkTarget(address, allowLoopback)
		},
	}
	return d.DialContext
}

// checkTarget reports ErrBlockedTarget for a resolved "ip:port" the
// guard refuses.
func checkTarget(address string, allowLoopback bool) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedTarget, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unresolved host", ErrBlockedTarget)
	}
	ip = ip.Unmap()

	switch {
	case ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast():
		return ErrBlockedTarget
	case ip.IsLoopback() && !allowLoopback:
		return ErrBlockedTarget
	}
	return nil
}
