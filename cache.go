package slotcache

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Cache keeps the cluster topology seen by a client: the pool of every
// known node and the master pool serving every hash slot.
//
// Lookups share a read lock. Mutations are serialized by the write lock,
// so readers never observe a half-built or half-cleared topology.
type Cache struct {
	connOpts ConnOpts
	newPool  PoolFactory
	logger   *zap.Logger

	mutex sync.RWMutex
	topo  *topology

	renewState uint32
	stats      counters
}

// New creates an empty cache. Fill it with Discover.
func New(opts Opts) (*Cache, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	return &Cache{
		connOpts: opts.ConnOpts,
		newPool:  opts.NewPool,
		logger:   opts.Logger,
		topo:     newTopology(),
	}, nil
}

// ConnOpts returns the options every node pool is created with.
func (c *Cache) ConnOpts() ConnOpts {
	return c.connOpts
}

// GetNode returns the pool of the node registered under nodeKey or nil.
func (c *Cache) GetNode(nodeKey string) Pool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.topo.nodes[nodeKey]
}

// GetNodeByAddr is GetNode for a HostAndPort.
func (c *Cache) GetNodeByAddr(node HostAndPort) Pool {
	return c.GetNode(NodeKey(node))
}

// GetSlotPool returns the pool of the master serving slot or nil.
func (c *Cache) GetSlotPool(slot int) Pool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.topo.slots[slot]
}

// GetKeyPool returns the pool of the master serving key or nil.
func (c *Cache) GetKeyPool(key string) Pool {
	return c.GetSlotPool(KeySlot(key))
}

// GetNodes returns a copy of the node registry.
func (c *Cache) GetNodes() map[string]Pool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	nodes := make(map[string]Pool, len(c.topo.nodes))
	for key, pool := range c.topo.nodes {
		nodes[key] = pool
	}
	return nodes
}

// Snapshot is a consistent copy of the whole topology.
type Snapshot struct {
	Nodes map[string]Pool
	Slots map[int]Pool
}

// Snapshot copies both the node registry and the slot table under one
// read lock.
func (c *Cache) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	s := Snapshot{
		Nodes: make(map[string]Pool, len(c.topo.nodes)),
		Slots: make(map[int]Pool, len(c.topo.slots)),
	}
	for key, pool := range c.topo.nodes {
		s.Nodes[key] = pool
	}
	for slot, pool := range c.topo.slots {
		s.Slots[slot] = pool
	}
	return s
}

// ShuffledPools returns the pools of all known nodes in random order.
// Clients failing over at the same time then spread over the cluster
// instead of all hitting the same node first.
func (c *Cache) ShuffledPools() []Pool {
	c.mutex.RLock()
	pools := make([]Pool, 0, len(c.topo.nodes))
	for _, pool := range c.topo.nodes {
		pools = append(pools, pool)
	}
	c.mutex.RUnlock()

	rand.Shuffle(len(pools), func(i, j int) {
		pools[i], pools[j] = pools[j], pools[i]
	})
	return pools
}

// NodesCount returns the number of registered nodes.
func (c *Cache) NodesCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.topo.nodes)
}

// SlotsCount returns the number of slots with a known owner.
func (c *Cache) SlotsCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.topo.slots)
}

// SetupNodeIfAbsent returns the pool registered for node, creating and
// registering it first if the node is new.
func (c *Cache) SetupNodeIfAbsent(node HostAndPort) (Pool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.setupNode(c.topo, node)
}

// AssignSlot makes node the owner of slot, registering the node if needed.
func (c *Cache) AssignSlot(slot int, node HostAndPort) error {
	return c.AssignSlots([]int{slot}, node)
}

// AssignSlots makes node the owner of slots, registering the node if
// needed. Previous owners are overwritten.
func (c *Cache) AssignSlots(slots []int, node HostAndPort) error {
	for _, slot := range slots {
		if slot < 0 || slot > MaxSlot {
			return errors.Wrapf(ErrInvalidSlot, "slot %d", slot)
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.assignSlots(c.topo, slots, node)
}

// Reset closes every node pool and forgets the whole topology.
func (c *Cache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.resetLocked()
}

// Close releases every node pool. The cache stays usable and can be
// filled again with Discover.
func (c *Cache) Close() {
	c.Reset()
}

// topology is the state guarded by Cache.mutex. Every pool in slots is
// also in nodes under the key of the node it was created for.
type topology struct {
	nodes map[string]Pool
	slots map[int]Pool
}

func newTopology() *topology {
	return &topology{
		nodes: make(map[string]Pool),
		slots: make(map[int]Pool),
	}
}

// setupNode registers node in t. The write lock must be held when t is
// the live topology.
func (c *Cache) setupNode(t *topology, node HostAndPort) (Pool, error) {
	nodeKey := NodeKey(node)
	if pool, ok := t.nodes[nodeKey]; ok {
		return pool, nil
	}

	pool, err := c.newPool(node, c.connOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "slotcache: can't create pool for %s", nodeKey)
	}
	t.nodes[nodeKey] = pool
	return pool, nil
}

func (c *Cache) assignSlots(t *topology, slots []int, node HostAndPort) error {
	pool, err := c.setupNode(t, node)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		t.slots[slot] = pool
	}
	return nil
}

func (c *Cache) resetLocked() {
	closePools(c.logger, c.topo.nodes)
	c.topo = newTopology()
}

// closePools closes every pool. A failing pool is logged and skipped so
// it can't keep the others open.
func closePools(logger *zap.Logger, nodes map[string]Pool) {
	for nodeKey, pool := range nodes {
		if pool == nil {
			continue
		}
		if err := pool.Close(); err != nil {
			logger.Warn("slotcache: closing node pool failed",
				zap.String("node", nodeKey), zap.Error(err))
		}
	}
}

// Stats is a snapshot of the cache activity counters.
type Stats struct {
	Discoveries     uint64
	Renewals        uint64
	RenewalsFailed  uint64
	RenewalsSkipped uint64
}

type counters struct {
	discoveries     uint64
	renewals        uint64
	renewalsFailed  uint64
	renewalsSkipped uint64
}

// Stats returns the activity counters of the cache.
func (c *Cache) Stats() Stats {
	return Stats{
		Discoveries:     atomic.LoadUint64(&c.stats.discoveries),
		Renewals:        atomic.LoadUint64(&c.stats.renewals),
		RenewalsFailed:  atomic.LoadUint64(&c.stats.renewalsFailed),
		RenewalsSkipped: atomic.LoadUint64(&c.stats.renewalsSkipped),
	}
}
