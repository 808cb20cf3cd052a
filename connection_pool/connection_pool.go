// Package connection_pool implements slotcache.Pool: a lazily dialed set of
// connections to one cluster node, handed out round-robin.
//
// Connections are expected to be multiplexed, so Get does not take a
// connection away from other callers: it returns one of at most
// ConnOpts.Pool.Size shared connections, dialing a new one while the pool
// is below that size.
package connection_pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tarantool/go-slotcache"
	"go.uber.org/multierr"
)

var (
	ErrEmptyAddr    = errors.New("addr should not be empty")
	ErrNoDialer     = errors.New("dialer should not be nil")
	ErrWrongSize    = errors.New("wrong pool size, must be greater than 0")
	ErrPoolClosed   = errors.New("pool is closed")
	ErrNoConnection = errors.New("no active connections")
)

// Dialer opens a connection to the node at addr. It must give up when
// ctx is done.
type Dialer func(ctx context.Context, addr string, opts slotcache.ConnOpts) (slotcache.Conn, error)

type ConnectionInfo struct {
	Addr         string
	Conns        int
	ConnectedNow bool
}

type ConnectionPool struct {
	addr     string
	dialer   Dialer
	connOpts slotcache.ConnOpts

	mutex     sync.RWMutex
	dialMutex sync.Mutex
	state     uint32
	conns     *RoundRobinStrategy
}

// New creates a pool for the node at addr. No connection is opened until
// the first Get.
func New(addr string, dialer Dialer, connOpts slotcache.ConnOpts) (*ConnectionPool, error) {
	if addr == "" {
		return nil, ErrEmptyAddr
	}
	if dialer == nil {
		return nil, ErrNoDialer
	}
	if connOpts.Pool.Size <= 0 {
		return nil, ErrWrongSize
	}

	return &ConnectionPool{
		addr:     addr,
		dialer:   dialer,
		connOpts: connOpts,
		conns:    NewEmptyRoundRobin(connOpts.Pool.Size),
	}, nil
}

// NewFactory returns a slotcache.PoolFactory building ConnectionPools
// which dial with dialer.
func NewFactory(dialer Dialer) slotcache.PoolFactory {
	return func(node slotcache.HostAndPort, opts slotcache.ConnOpts) (slotcache.Pool, error) {
		return New(slotcache.NodeKey(node), dialer, opts)
	}
}

// Addr returns the address of the pool's node.
func (connPool *ConnectionPool) Addr() string {
	return connPool.addr
}

// Get returns an open connection to the node.
func (connPool *ConnectionPool) Get(ctx context.Context) (slotcache.Conn, error) {
	if connPool.getState() == connClosed {
		return nil, ErrPoolClosed
	}

	connPool.mutex.RLock()
	if connPool.getState() == connClosed {
		connPool.mutex.RUnlock()
		return nil, ErrPoolClosed
	}
	var conn slotcache.Conn
	if connPool.conns.Size() >= connPool.connOpts.Pool.Size {
		conn = connPool.conns.GetNextConnection()
	}
	connPool.mutex.RUnlock()

	if conn != nil {
		return conn, nil
	}
	return connPool.dial(ctx)
}

// Put gives a connection back. A closed connection is removed from the
// pool so the next Get dials a fresh one.
func (connPool *ConnectionPool) Put(conn slotcache.Conn) {
	if conn == nil || !conn.ClosedNow() {
		return
	}

	connPool.mutex.Lock()
	defer connPool.mutex.Unlock()

	connPool.conns.DeleteConn(conn)
}

// ConnectedNow reports whether the pool holds an open connection.
func (connPool *ConnectionPool) ConnectedNow() bool {
	connPool.mutex.RLock()
	defer connPool.mutex.RUnlock()

	return connPool.getState() == connConnected && connPool.conns.HasOpen()
}

// GetPoolInfo gets information of the pool connections.
func (connPool *ConnectionPool) GetPoolInfo() ConnectionInfo {
	connPool.mutex.RLock()
	defer connPool.mutex.RUnlock()

	return ConnectionInfo{
		Addr:         connPool.addr,
		Conns:        connPool.conns.Size(),
		ConnectedNow: connPool.getState() == connConnected && connPool.conns.HasOpen(),
	}
}

// Close closes connections in pool. Further Gets fail with ErrPoolClosed.
func (connPool *ConnectionPool) Close() error {
	connPool.mutex.Lock()
	defer connPool.mutex.Unlock()

	if connPool.getState() == connClosed {
		return nil
	}
	atomic.StoreUint32(&connPool.state, connClosed)

	errs := connPool.conns.CloseConns()
	connPool.conns = NewEmptyRoundRobin(0)

	return multierr.Combine(errs...)
}

//
// private
//

func (connPool *ConnectionPool) getState() uint32 {
	return atomic.LoadUint32(&connPool.state)
}

// dial grows the pool by one connection. Dials are serialized so
// concurrent Gets can't push the pool over its size.
func (connPool *ConnectionPool) dial(ctx context.Context) (slotcache.Conn, error) {
	connPool.dialMutex.Lock()
	defer connPool.dialMutex.Unlock()

	connPool.mutex.Lock()
	if connPool.getState() == connClosed {
		connPool.mutex.Unlock()
		return nil, ErrPoolClosed
	}
	connPool.conns.DeleteClosed()
	if connPool.conns.Size() >= connPool.connOpts.Pool.Size {
		conn := connPool.conns.GetNextConnection()
		connPool.mutex.Unlock()
		return conn, nil
	}
	connPool.mutex.Unlock()

	if connPool.connOpts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connPool.connOpts.ConnectTimeout)
		defer cancel()
	}

	conn, err := connPool.dialer(ctx, connPool.addr, connPool.connOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "connection_pool: connect to %s failed", connPool.addr)
	}
	if conn == nil {
		return nil, ErrNoConnection
	}

	connPool.mutex.Lock()
	defer connPool.mutex.Unlock()

	if connPool.getState() == connClosed {
		conn.Close()
		return nil, ErrPoolClosed
	}
	connPool.conns.AddConn(conn)

	return conn, nil
}
