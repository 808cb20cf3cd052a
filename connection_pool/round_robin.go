package connection_pool

import (
	"sync/atomic"

	"github.com/tarantool/go-slotcache"
)

type RoundRobinStrategy struct {
	conns   []slotcache.Conn
	size    int
	current uint64
}

func NewEmptyRoundRobin(size int) *RoundRobinStrategy {
	return &RoundRobinStrategy{
		conns: make([]slotcache.Conn, 0, size),
		size:  0,
	}
}

func (r *RoundRobinStrategy) AddConn(conn slotcache.Conn) {
	r.conns = append(r.conns, conn)
	r.size += 1
}

// DeleteConn removes conn and reports whether it was there.
func (r *RoundRobinStrategy) DeleteConn(conn slotcache.Conn) bool {
	for index, c := range r.conns {
		if c == conn {
			r.conns = append(r.conns[:index], r.conns[index+1:]...)
			r.size -= 1
			return true
		}
	}
	return false
}

// DeleteClosed removes every closed connection.
func (r *RoundRobinStrategy) DeleteClosed() int {
	alive := r.conns[:0]
	for _, conn := range r.conns {
		if !conn.ClosedNow() {
			alive = append(alive, conn)
		}
	}
	deleted := len(r.conns) - len(alive)
	for i := len(alive); i < len(r.conns); i++ {
		r.conns[i] = nil
	}
	r.conns = alive
	r.size = len(alive)
	return deleted
}

func (r *RoundRobinStrategy) Size() int {
	return r.size
}

func (r *RoundRobinStrategy) HasOpen() bool {
	for _, conn := range r.conns {
		if !conn.ClosedNow() {
			return true
		}
	}
	return false
}

func (r *RoundRobinStrategy) NextIndex() int {
	return int(atomic.AddUint64(&r.current, uint64(1)) % uint64(len(r.conns)))
}

func (r *RoundRobinStrategy) CloseConns() []error {
	errs := make([]error, len(r.conns))

	for i, conn := range r.conns {
		errs[i] = conn.Close()
	}

	return errs
}

// GetNextConnection returns the next open connection, or nil if all of
// them are closed.
func (r *RoundRobinStrategy) GetNextConnection() slotcache.Conn {
	if r.size == 0 {
		return nil
	}
	next := r.NextIndex()
	cycleLen := len(r.conns) + next
	for i := next; i < cycleLen; i++ {
		idx := i % len(r.conns)
		if !r.conns[idx].ClosedNow() {
			if i != next {
				atomic.StoreUint64(&r.current, uint64(idx))
			}
			return r.conns[idx]
		}
	}
	return nil
}
