package slotcache

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// HostAndPort identifies a cluster node.
type HostAndPort struct {
	Host string
	Port int
}

// String returns the node key, "host:port".
func (hp HostAndPort) String() string {
	return hp.Host + ":" + strconv.Itoa(hp.Port)
}

// NodeKey returns the key a node is registered under. Two nodes are the
// same iff their keys match exactly; host names are not resolved.
func NodeKey(node HostAndPort) string {
	return node.String()
}

// ConnNodeKey returns the key of the node conn is connected to.
func ConnNodeKey(conn Conn) string {
	return conn.Addr()
}

// ParseHostAndPort splits "host:port" into a HostAndPort.
func ParseHostAndPort(addr string) (HostAndPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return HostAndPort{}, errors.Wrapf(ErrInvalidAddr, "%q: %s", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > maxPort {
		return HostAndPort{}, errors.Wrapf(ErrInvalidAddr, "%q: bad port", addr)
	}
	return HostAndPort{Host: host, Port: port}, nil
}

// HostPortMap remaps node addresses announced by the cluster to the
// addresses of their TLS endpoints. It is consulted only when SSL is on.
type HostPortMap interface {
	SSLHostAndPort(host string, port int) (HostAndPort, bool)
}

// HostPortMapFunc is an adapter to use an ordinary function as HostPortMap.
type HostPortMapFunc func(host string, port int) (HostAndPort, bool)

func (f HostPortMapFunc) SSLHostAndPort(host string, port int) (HostAndPort, bool) {
	return f(host, port)
}

// StaticHostPortMap maps plain "host:port" keys to TLS endpoints.
type StaticHostPortMap map[string]HostAndPort

func (m StaticHostPortMap) SSLHostAndPort(host string, port int) (HostAndPort, bool) {
	hp, ok := m[HostAndPort{Host: host, Port: port}.String()]
	return hp, ok
}
