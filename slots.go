package slotcache

import (
	"fmt"
	"math"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// SlotRange is one record of a topology reply: slots [Start, End] are
// served by Master and mirrored by Replicas. A record announced with an
// empty master descriptor has a zero Master and leaves its slots
// unassigned.
type SlotRange struct {
	Start    int
	End      int
	Master   HostAndPort
	Replicas []HostAndPort
}

// HasMaster reports whether the record names a master.
func (r SlotRange) HasMaster() bool {
	return r.Master != HostAndPort{}
}

// Slots expands the range into the list of slots it covers.
func (r SlotRange) Slots() []int {
	if r.End < r.Start {
		return nil
	}
	slots := make([]int, 0, r.End-r.Start+1)
	for slot := r.Start; slot <= r.End; slot++ {
		slots = append(slots, slot)
	}
	return slots
}

// EncodeMsgpack writes the range the way a server reply lays it out:
// [start, end, [host, port], [host, port]...].
func (r *SlotRange) EncodeMsgpack(e *msgpack.Encoder) error {
	if err := e.EncodeSliceLen(masterNodeIndex + 1 + len(r.Replicas)); err != nil {
		return err
	}
	if err := e.EncodeInt64(int64(r.Start)); err != nil {
		return err
	}
	if err := e.EncodeInt64(int64(r.End)); err != nil {
		return err
	}
	if err := encodeNode(e, r.Master); err != nil {
		return err
	}
	for _, replica := range r.Replicas {
		if err := encodeNode(e, replica); err != nil {
			return err
		}
	}
	return nil
}

func encodeNode(e *msgpack.Encoder, node HostAndPort) error {
	if node == (HostAndPort{}) {
		return e.EncodeSliceLen(0)
	}
	if err := e.EncodeSliceLen(2); err != nil {
		return err
	}
	if err := e.EncodeString(node.Host); err != nil {
		return err
	}
	return e.EncodeInt64(int64(node.Port))
}

// ParseSlotRanges converts a decoded topology reply into slot ranges.
// Malformed records are skipped: a cluster in transition may announce
// partial views, and they must not break the parse of the rest.
func ParseSlotRanges(raw []interface{}) []SlotRange {
	ranges := make([]SlotRange, 0, len(raw))
	for _, item := range raw {
		r, err := parseSlotRange(item)
		if err != nil {
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func parseSlotRange(item interface{}) (SlotRange, error) {
	var r SlotRange

	info, ok := item.([]interface{})
	if !ok {
		return r, fmt.Errorf("record is %T, not an array", item)
	}
	if len(info) <= masterNodeIndex {
		return r, fmt.Errorf("record has %d fields", len(info))
	}

	start, ok1 := toInt(info[0])
	end, ok2 := toInt(info[1])
	if !ok1 || !ok2 {
		return r, fmt.Errorf("bad slot bounds %v..%v", info[0], info[1])
	}
	if start < 0 || end > MaxSlot || start > end {
		return r, fmt.Errorf("slot range %d..%d out of bounds", start, end)
	}
	r.Start, r.End = start, end

	if !isEmptyNode(info[masterNodeIndex]) {
		master, ok := parseNode(info[masterNodeIndex])
		if !ok {
			return r, fmt.Errorf("bad master descriptor %v", info[masterNodeIndex])
		}
		r.Master = master
	}

	for _, desc := range info[masterNodeIndex+1:] {
		if replica, ok := parseNode(desc); ok {
			r.Replicas = append(r.Replicas, replica)
		}
	}
	return r, nil
}

func isEmptyNode(desc interface{}) bool {
	fields, ok := desc.([]interface{})
	return ok && len(fields) == 0
}

// parseNode reads a [host, port, id...] descriptor.
func parseNode(desc interface{}) (HostAndPort, bool) {
	fields, ok := desc.([]interface{})
	if !ok || len(fields) < 2 {
		return HostAndPort{}, false
	}
	var host string
	switch h := fields[0].(type) {
	case string:
		host = h
	case []byte:
		host = string(h)
	default:
		return HostAndPort{}, false
	}
	port, ok := toInt(fields[1])
	if !ok || host == "" || port < 0 || port > maxPort {
		return HostAndPort{}, false
	}
	return HostAndPort{Host: host, Port: port}, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint:
		if uint64(n) > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
