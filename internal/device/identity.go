package device

import (
	"net"
	"strconv"
)

// DefaultDevicePort is the port a phone's API listens on when a frame or
// announcement does not say otherwise.
const DefaultDevicePort = 8080

// HostID is the registry key for the phone reachable at ip:port. Phones on
// the default port are keyed by bare IP so that a Phone snapshot (which
// rarely carries a port) and a NetworkDevice announcement land on the same
// device.
func HostID(ip string, port int) string {
	if port == 0 || port == DefaultDevicePort {
		return ip
	}
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// APIURL is the control API base for the phone at ip:port.
func APIURL(ip string, port int) string {
	if port == 0 {
		port = DefaultDevicePort
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + "/api"
}

// SplitHost parses a "host" or "host:port" string as given on the command
// line into an IP and port, defaulting the port.
func SplitHost(hostport string) (ip string, port int) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, DefaultDevicePort
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 {
		return h, DefaultDevicePort
	}
	return h, n
}
