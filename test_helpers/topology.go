package test_helpers

import (
	"fmt"

	"github.com/tarantool/go-slotcache"
)

// MustHostAndPort parses addr, panicking on malformed input.
func MustHostAndPort(addr string) slotcache.HostAndPort {
	node, err := slotcache.ParseHostAndPort(addr)
	if err != nil {
		panic(err)
	}
	return node
}

// SplitSlots spreads the whole slot space evenly over masters, in order.
func SplitSlots(masters ...string) []slotcache.SlotRange {
	ranges := make([]slotcache.SlotRange, 0, len(masters))
	if len(masters) == 0 {
		return ranges
	}

	step := slotcache.SlotCount / len(masters)
	for i, master := range masters {
		r := slotcache.SlotRange{
			Start:  i * step,
			End:    (i+1)*step - 1,
			Master: MustHostAndPort(master),
		}
		if i == len(masters)-1 {
			r.End = slotcache.MaxSlot
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// WithReplicas returns r with replicas appended.
func WithReplicas(r slotcache.SlotRange, replicas ...string) slotcache.SlotRange {
	for _, replica := range replicas {
		r.Replicas = append(r.Replicas, MustHostAndPort(replica))
	}
	return r
}

// RawRecord builds a topology record the way a server reply decodes:
// [start, end, [host, port, id], [host, port, id]...].
func RawRecord(start, end int64, nodes ...string) []interface{} {
	record := []interface{}{start, end}
	for i, addr := range nodes {
		node := MustHostAndPort(addr)
		id := fmt.Sprintf("%040d", i)
		record = append(record, []interface{}{[]byte(node.Host), int64(node.Port), id})
	}
	return record
}

// CheckSlotOwners verifies that every slot of every range resolves to the
// pool registered for the range master. Ranges without a master are
// skipped.
func CheckSlotOwners(cache *slotcache.Cache, ranges []slotcache.SlotRange) error {
	for _, r := range ranges {
		if !r.HasMaster() {
			continue
		}
		expected := cache.GetNodeByAddr(r.Master)
		if expected == nil {
			return fmt.Errorf("master %s is not registered", r.Master)
		}
		for slot := r.Start; slot <= r.End; slot++ {
			if actual := cache.GetSlotPool(slot); actual != expected {
				return fmt.Errorf("slot %d: unexpected owner, expected: %s", slot, r.Master)
			}
		}
	}
	return nil
}
