package sok

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveSockaddr performs a single address resolution (no caching, per
// spec.md's Non-goals) and returns the socket family and sockaddr to use
// for bind(2)/connect(2).
func resolveSockaddr(address string, port int) (family int, sa unix.Sockaddr, err error) {
	ipAddr, err := net.ResolveIPAddr("ip", address)
	if err != nil {
		return 0, nil, wrapErr(CodeSokException, "resolve address", err)
	}

	if v4 := ipAddr.IP.To4(); v4 != nil {
		var addr [4]byte
		copy(addr[:], v4)
		return unix.AF_INET, &unix.SockaddrInet4{Port: port, Addr: addr}, nil
	}

	var addr [16]byte
	copy(addr[:], ipAddr.IP.To16())
	return unix.AF_INET6, &unix.SockaddrInet6{Port: port, Addr: addr}, nil
}

// listenSockaddr resolves a bind address. An empty address means "any",
// bound dual-stack on AF_INET6 with IPV6_V6ONLY=0 per spec.md §4.4.
func listenSockaddr(address string, port int) (family int, sa unix.Sockaddr, dualStack bool, err error) {
	if address == "" {
		return unix.AF_INET6, &unix.SockaddrInet6{Port: port}, true, nil
	}
	family, sa, err = resolveSockaddr(address, port)
	return family, sa, family == unix.AF_INET6, err
}

func peerAddrString(address string, port int) string {
	return fmt.Sprintf("%s:%d", address, port)
}

// ipPortString renders a raw sockaddr IP (4 or 16 bytes) and port as
// address:port text, used to label accepted connections.
func ipPortString(ip []byte, port int) string {
	addr := make(net.IP, len(ip))
	copy(addr, ip)
	return fmt.Sprintf("%s:%d", addr.String(), port)
}
