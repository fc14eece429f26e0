// Package discovery lets workers find the host on the local network. A
// worker broadcasts a probe datagram; the host's responder answers with the
// TCP address the worker should dial.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the UDP port the responder listens on.
	DefaultPort = 2901
	// ProbeMessage is the exact payload of a discovery request.
	ProbeMessage = "KAMBO_HIVE_DISCOVERY_REQUEST"
	// ReplyPrefix precedes the "ip:port" address in a reply.
	ReplyPrefix = "KAMBO_HIVE_HOST_IS_AT:"
	// DefaultTimeout bounds how long a prober waits for a reply.
	DefaultTimeout = 5 * time.Second
	// DefaultBroadcastAddress is the limited broadcast address.
	DefaultBroadcastAddress = "255.255.255.255"

	maxDatagram = 1024
)

// ErrNoHost is returned when no valid reply arrives before the timeout.
var ErrNoHost = errors.New("discovery: no host found")

// portOf extracts the port of a "host:port" bind address.
func portOf(address string) (int, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("invalid tcp address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid tcp port in %q", address)
	}
	return port, nil
}

// LocalIPFor returns the local address the kernel would use to reach
// remote. No packet is sent.
func LocalIPFor(remote *net.UDPAddr) (net.IP, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return local.IP, nil
}
