//go:build unix

package transport

import (
	"golang.org/x/sys/unix"
)

// setSocketOptions lets several mDNS stacks on one host share port 5353
// (RFC 6762 §15.1). SO_REUSEPORT is best effort: older kernels lack it.
func setSocketOptions(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}
