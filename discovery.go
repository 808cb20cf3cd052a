package slotcache

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Discover rebuilds the whole topology from the reply of the seed
// connection: every master and replica gets a pool, slots are assigned to
// masters only.
//
// The query runs before the write lock is taken. If it fails, or a node
// pool can't be created, the error is returned and the previous topology
// is kept rather than reset to empty. Otherwise the old pools are closed
// and the new topology is installed in one critical section.
func (c *Cache) Discover(ctx context.Context, conn Conn) error {
	if conn == nil {
		return ErrNilConn
	}

	qctx, cancel := context.WithTimeout(ctx, c.connOpts.Timeout)
	defer cancel()

	ranges, err := c.querySlots(qctx, conn)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	t := newTopology()
	for _, r := range ranges {
		if r.HasMaster() {
			if err := c.assignSlots(t, r.Slots(), r.Master); err != nil {
				closePools(c.logger, t.nodes)
				return err
			}
		}
		for _, replica := range r.Replicas {
			if _, err := c.setupNode(t, replica); err != nil {
				closePools(c.logger, t.nodes)
				return err
			}
		}
	}

	c.resetLocked()
	c.topo = t

	atomic.AddUint64(&c.stats.discoveries, 1)
	c.logger.Info("slotcache: cluster discovered",
		zap.String("seed", ConnNodeKey(conn)),
		zap.Int("nodes", len(t.nodes)),
		zap.Int("slots", len(t.slots)))
	return nil
}

// Renew refreshes the slot table only. It asks hint first, when given,
// then every known node in random order until one answers. Nodes learned
// from the reply are registered; no node is ever dropped.
//
// Only one renewal runs at a time: a call made while another one is in
// progress returns false at once. Renew also returns false when no node
// answered, leaving the previous slot table in place. It never fails
// otherwise; callers notice a stale table through further redirections.
func (c *Cache) Renew(ctx context.Context, hint Conn) bool {
	if atomic.LoadUint32(&c.renewState) != renewIdle {
		atomic.AddUint64(&c.stats.renewalsSkipped, 1)
		return false
	}

	c.mutex.Lock()
	if atomic.LoadUint32(&c.renewState) != renewIdle {
		c.mutex.Unlock()
		atomic.AddUint64(&c.stats.renewalsSkipped, 1)
		return false
	}
	atomic.StoreUint32(&c.renewState, renewInProgress)
	c.mutex.Unlock()

	defer atomic.StoreUint32(&c.renewState, renewIdle)

	atomic.AddUint64(&c.stats.renewals, 1)

	if hint != nil && c.renewFromConn(ctx, hint) {
		return true
	}

	for _, pool := range c.ShuffledPools() {
		if ctx.Err() != nil {
			break
		}
		if c.renewFromPool(ctx, pool) {
			return true
		}
	}

	atomic.AddUint64(&c.stats.renewalsFailed, 1)
	c.logger.Warn("slotcache: no node answered the topology query, keeping stale slots")
	return false
}

func (c *Cache) renewFromConn(ctx context.Context, conn Conn) bool {
	qctx, cancel := context.WithTimeout(ctx, c.connOpts.Timeout)
	defer cancel()

	ranges, err := c.querySlots(qctx, conn)
	if err != nil {
		c.logger.Debug("slotcache: renewal through hint failed", zap.Error(err))
		return false
	}
	c.replaceSlots(ranges)
	return true
}

func (c *Cache) renewFromPool(ctx context.Context, pool Pool) bool {
	qctx, cancel := context.WithTimeout(ctx, c.connOpts.queryTimeout())
	defer cancel()

	conn, err := pool.Get(qctx)
	if err != nil {
		c.logger.Debug("slotcache: can't get connection for renewal", zap.Error(err))
		return false
	}

	ranges, err := c.querySlots(qctx, conn)
	if err != nil {
		// Pooled connections are shared. Only a query cut off by its
		// deadline may leave the connection stuck mid-reply; a server
		// error such as CLUSTERDOWN leaves it usable.
		if qctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			conn.Close()
		}
		pool.Put(conn)
		c.logger.Debug("slotcache: renewal candidate failed", zap.Error(err))
		return false
	}
	pool.Put(conn)

	c.replaceSlots(ranges)
	return true
}

// replaceSlots installs a fresh slot table. Replicas are not looked at.
func (c *Cache) replaceSlots(ranges []SlotRange) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.topo.slots = make(map[int]Pool, SlotCount)
	for _, r := range ranges {
		if !r.HasMaster() {
			continue
		}
		if err := c.assignSlots(c.topo, r.Slots(), r.Master); err != nil {
			c.logger.Warn("slotcache: can't assign slots",
				zap.Int("start", r.Start), zap.Int("end", r.End), zap.Error(err))
		}
	}
}

func (c *Cache) querySlots(ctx context.Context, conn Conn) ([]SlotRange, error) {
	raw, err := conn.ClusterSlots(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "slotcache: topology query to %s failed", ConnNodeKey(conn))
	}
	return c.parseSlotRanges(raw), nil
}

// parseSlotRanges is ParseSlotRanges with logging of skipped records and
// TLS address remapping.
func (c *Cache) parseSlotRanges(raw []interface{}) []SlotRange {
	ranges := make([]SlotRange, 0, len(raw))
	for i, item := range raw {
		r, err := parseSlotRange(item)
		if err != nil {
			c.logger.Debug("slotcache: skipping topology record",
				zap.Int("record", i), zap.Error(err))
			continue
		}
		if r.HasMaster() {
			r.Master = c.resolveNode(r.Master)
		}
		for j := range r.Replicas {
			r.Replicas[j] = c.resolveNode(r.Replicas[j])
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func (c *Cache) resolveNode(node HostAndPort) HostAndPort {
	if !c.connOpts.SSL || c.connOpts.HostPortMap == nil {
		return node
	}
	if mapped, ok := c.connOpts.HostPortMap.SSLHostAndPort(node.Host, node.Port); ok {
		return mapped
	}
	return node
}
