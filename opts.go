package slotcache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is a connection to a single cluster node.
type Conn interface {
	// Addr returns the "host:port" of the node.
	Addr() string
	// ClusterSlots issues the topology query and returns the decoded
	// reply: one []interface{} record per slot range.
	ClusterSlots(ctx context.Context) ([]interface{}, error)
	ClosedNow() bool
	Close() error
}

// Pool hands out connections to one node.
type Pool interface {
	// Get acquires a connection, dialing if needed.
	Get(ctx context.Context) (Conn, error)
	// Put hands a connection back. Closed connections are dropped.
	Put(conn Conn)
	// Close releases every connection of the pool.
	Close() error
}

// PoolFactory builds the pool for a node. It is called at most once per
// node key while the node stays registered.
type PoolFactory func(node HostAndPort, opts ConnOpts) (Pool, error)

type PoolOpts struct {
	// Size is the maximum number of connections kept per node.
	Size int
}

// ConnOpts is passed to every pool the cache creates.
type ConnOpts struct {
	// ConnectTimeout bounds dialing a node.
	ConnectTimeout time.Duration
	// Timeout bounds a single request, including the topology query.
	Timeout time.Duration
	User    string
	Pass    string
	// ClientName is announced to the nodes. Generated when empty.
	ClientName string

	SSL       bool
	TLSConfig *tls.Config
	// HostPortMap remaps announced addresses when SSL is set.
	HostPortMap HostPortMap

	Pool PoolOpts
}

// Opts configures a Cache.
type Opts struct {
	ConnOpts
	// NewPool creates node pools. Required.
	NewPool PoolFactory
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

func (opts Opts) validate() (Opts, error) {
	if opts.NewPool == nil {
		return opts, ErrNoPoolFactory
	}
	if opts.ConnectTimeout < 0 || opts.Timeout < 0 {
		return opts, ErrWrongTimeout
	}
	if opts.Pool.Size < 0 {
		return opts, ErrWrongPoolSize
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Pool.Size == 0 {
		opts.Pool.Size = DefaultPoolSize
	}
	if opts.ClientName == "" {
		opts.ClientName = clientNamePrefix + uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts, nil
}

// queryTimeout bounds one failover attempt: acquiring a connection and
// running the topology query on it.
func (opts ConnOpts) queryTimeout() time.Duration {
	return opts.ConnectTimeout + opts.Timeout
}
