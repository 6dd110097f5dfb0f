// Package netutil provides the small amount of host introspection the
// container adapter needs to self-identify: the daemon process's own
// primary IPv4 address and host name.
package netutil

import (
	"fmt"
	"net"
	"os"
)

// PrimaryIPv4 returns the non-loopback IPv4 address of the interface
// the default route would use, by dialing a connection and reading
// the local address without sending any packets (UDP "connect" never
// touches the wire).
func PrimaryIPv4() (string, error) {
	conn, err := net.Dial("udp4", "198.18.0.1:53")
	if err != nil {
		return "", fmt.Errorf("netutil: detect primary IPv4: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("netutil: unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// Hostname returns the process's host name.
func Hostname() (string, error) {
	return os.Hostname()
}
