package test_helpers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarantool/go-slotcache"
	"github.com/tarantool/go-slotcache/connection_pool"
)

var ErrConnRefused = errors.New("connection refused")

// FakeNode is an in-memory cluster node answering topology queries with
// a configured reply. Replies go through the msgpack codec, the way a
// real connection would decode them.
type FakeNode struct {
	addr string

	mutex    sync.Mutex
	ranges   []slotcache.SlotRange
	raw      []interface{}
	queryErr error
	dialErr  error
	delay    time.Duration
	hold     chan struct{}

	queries int64
	dials   int64
}

func newFakeNode(addr string) *FakeNode {
	return &FakeNode{addr: addr}
}

func (n *FakeNode) Addr() string {
	return n.addr
}

// SetTopology sets the reply of the node's topology query.
func (n *FakeNode) SetTopology(ranges []slotcache.SlotRange) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.ranges = ranges
	n.raw = nil
}

// SetRawTopology makes the node reply with raw records as they are,
// malformed ones included.
func (n *FakeNode) SetRawTopology(raw []interface{}) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.raw = raw
}

// FailQueries makes topology queries fail with err. Nil restores them.
func (n *FakeNode) FailQueries(err error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.queryErr = err
}

// FailDials makes new connections to the node fail with err.
func (n *FakeNode) FailDials(err error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.dialErr = err
}

// SetDelay delays every topology reply by d, or until the query
// context is done.
func (n *FakeNode) SetDelay(d time.Duration) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.delay = d
}

// Hold makes topology queries wait until release is called. Queries
// issued meanwhile are counted as soon as they arrive.
func (n *FakeNode) Hold() (release func()) {
	hold := make(chan struct{})

	n.mutex.Lock()
	n.hold = hold
	n.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mutex.Lock()
			n.hold = nil
			n.mutex.Unlock()
			close(hold)
		})
	}
}

// Queries returns the number of topology queries the node received.
func (n *FakeNode) Queries() int64 {
	return atomic.LoadInt64(&n.queries)
}

// Dials returns the number of successful connections to the node.
func (n *FakeNode) Dials() int64 {
	return atomic.LoadInt64(&n.dials)
}

// Connect opens a connection to the node.
func (n *FakeNode) Connect(ctx context.Context) (*FakeConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mutex.Lock()
	err := n.dialErr
	n.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&n.dials, 1)
	return &FakeConn{node: n}, nil
}

func (n *FakeNode) clusterSlots(ctx context.Context) ([]interface{}, error) {
	atomic.AddInt64(&n.queries, 1)

	n.mutex.Lock()
	ranges, raw := n.ranges, n.raw
	queryErr, delay, hold := n.queryErr, n.delay, n.hold
	n.mutex.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if queryErr != nil {
		return nil, queryErr
	}
	if raw != nil {
		return raw, nil
	}

	b, err := slotcache.EncodeClusterSlots(ranges)
	if err != nil {
		return nil, err
	}
	return slotcache.DecodeClusterSlots(b)
}

// FakeConn is a connection to a FakeNode.
type FakeConn struct {
	node   *FakeNode
	closed int32
}

func (conn *FakeConn) Addr() string {
	return conn.node.addr
}

func (conn *FakeConn) ClusterSlots(ctx context.Context) ([]interface{}, error) {
	if conn.ClosedNow() {
		return nil, fmt.Errorf("connection to %s is closed", conn.node.addr)
	}
	return conn.node.clusterSlots(ctx)
}

func (conn *FakeConn) ClosedNow() bool {
	return atomic.LoadInt32(&conn.closed) != 0
}

func (conn *FakeConn) Close() error {
	atomic.StoreInt32(&conn.closed, 1)
	return nil
}

// FakeCluster is a set of FakeNodes reachable by address.
type FakeCluster struct {
	mutex sync.RWMutex
	nodes map[string]*FakeNode
}

// NewFakeCluster creates a cluster with a node for every address.
func NewFakeCluster(addrs ...string) *FakeCluster {
	cluster := &FakeCluster{nodes: make(map[string]*FakeNode)}
	for _, addr := range addrs {
		cluster.AddNode(addr)
	}
	return cluster
}

// AddNode returns the node at addr, adding it first if needed.
func (c *FakeCluster) AddNode(addr string) *FakeNode {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, ok := c.nodes[addr]; ok {
		return node
	}
	node := newFakeNode(addr)
	c.nodes[addr] = node
	return node
}

// Node returns the node at addr or nil.
func (c *FakeCluster) Node(addr string) *FakeNode {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.nodes[addr]
}

// SetTopology makes every node reply with ranges.
func (c *FakeCluster) SetTopology(ranges []slotcache.SlotRange) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, node := range c.nodes {
		node.SetTopology(ranges)
	}
}

// Queries returns the number of topology queries over all nodes.
func (c *FakeCluster) Queries() int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var total int64
	for _, node := range c.nodes {
		total += node.Queries()
	}
	return total
}

// Dial is a connection_pool.Dialer for the cluster. Unknown addresses
// refuse connections.
func (c *FakeCluster) Dial(ctx context.Context, addr string, opts slotcache.ConnOpts) (slotcache.Conn, error) {
	node := c.Node(addr)
	if node == nil {
		return nil, fmt.Errorf("dial %s: %w", addr, ErrConnRefused)
	}
	conn, err := node.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// PoolFactory returns a slotcache.PoolFactory creating
// connection_pool.ConnectionPools dialing into the cluster.
func (c *FakeCluster) PoolFactory() slotcache.PoolFactory {
	return connection_pool.NewFactory(c.Dial)
}
