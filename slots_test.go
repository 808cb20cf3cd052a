package slotcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tarantool/go-slotcache"
	"github.com/tarantool/go-slotcache/test_helpers"
	"gopkg.in/vmihailenco/msgpack.v2"
	"gotest.tools/assert"
)

func TestParseSlotRanges(t *testing.T) {
	raw := []interface{}{
		test_helpers.RawRecord(0, 5460, "127.0.0.1:7000", "127.0.0.1:7003"),
		[]interface{}{uint64(5461), uint16(10922),
			[]interface{}{"127.0.0.1", uint64(7001), "id"},
			[]interface{}{"127.0.0.1", int32(7004)},
			[]interface{}{"127.0.0.1"},
		},
	}

	ranges := slotcache.ParseSlotRanges(raw)

	assert.DeepEqual(t, ranges, []slotcache.SlotRange{
		{
			Start:    0,
			End:      5460,
			Master:   slotcache.HostAndPort{Host: "127.0.0.1", Port: 7000},
			Replicas: []slotcache.HostAndPort{{Host: "127.0.0.1", Port: 7003}},
		},
		{
			Start:    5461,
			End:      10922,
			Master:   slotcache.HostAndPort{Host: "127.0.0.1", Port: 7001},
			Replicas: []slotcache.HostAndPort{{Host: "127.0.0.1", Port: 7004}},
		},
	})
}

func TestParseSlotRanges_Malformed(t *testing.T) {
	cases := map[string]interface{}{
		"not an array":     42,
		"too short":        []interface{}{int64(0), int64(10)},
		"string bounds":    []interface{}{"0", "10", []interface{}{"h", int64(1)}},
		"negative start":   test_helpers.RawRecord(-1, 10, "h:1"),
		"end past max":     test_helpers.RawRecord(0, slotcache.SlotCount, "h:1"),
		"reversed":         test_helpers.RawRecord(10, 0, "h:1"),
		"master not array": []interface{}{int64(0), int64(10), "h:1"},
		"empty host":       []interface{}{int64(0), int64(10), []interface{}{"", int64(1)}},
		"bad port":         []interface{}{int64(0), int64(10), []interface{}{"h", "1"}},
		"port too big":     []interface{}{int64(0), int64(10), []interface{}{"h", int64(65536)}},
		"negative port":    []interface{}{int64(0), int64(10), []interface{}{"h", int64(-1)}},
		"wrapping port":    []interface{}{int64(0), int64(10), []interface{}{"h", uint64(1 << 63)}},
		"huge bounds":      []interface{}{uint64(1 << 63), uint64(1<<63 + 10), []interface{}{"h", int64(1)}},
	}

	for name, record := range cases {
		ranges := slotcache.ParseSlotRanges([]interface{}{record})
		assert.Equal(t, len(ranges), 0, name)
	}
}

func TestParseSlotRanges_EmptyMaster(t *testing.T) {
	raw := []interface{}{
		[]interface{}{int64(0), int64(99), []interface{}{},
			[]interface{}{"127.0.0.1", int64(7003)},
			[]interface{}{"127.0.0.1", int64(70000)},
		},
	}

	ranges := slotcache.ParseSlotRanges(raw)

	assert.DeepEqual(t, ranges, []slotcache.SlotRange{
		{
			Start:    0,
			End:      99,
			Replicas: []slotcache.HostAndPort{{Host: "127.0.0.1", Port: 7003}},
		},
	})
	assert.Assert(t, !ranges[0].HasMaster())

	b, err := slotcache.EncodeClusterSlots(ranges)
	assert.NilError(t, err)
	decoded, err := slotcache.DecodeClusterSlots(b)
	assert.NilError(t, err)
	assert.DeepEqual(t, slotcache.ParseSlotRanges(decoded), ranges)
}

func TestSlotRange_Slots(t *testing.T) {
	r := slotcache.SlotRange{Start: 10, End: 13}
	assert.DeepEqual(t, r.Slots(), []int{10, 11, 12, 13})

	r = slotcache.SlotRange{Start: 7, End: 7}
	assert.DeepEqual(t, r.Slots(), []int{7})

	r = slotcache.SlotRange{Start: 0, End: slotcache.MaxSlot}
	assert.Equal(t, len(r.Slots()), slotcache.SlotCount)
}

func TestClusterSlotsCodec(t *testing.T) {
	ranges := []slotcache.SlotRange{
		test_helpers.WithReplicas(slotcache.SlotRange{
			Start: 0, End: 8191, Master: test_helpers.MustHostAndPort("10.0.0.1:7000"),
		}, "10.0.0.2:7000", "10.0.0.3:7000"),
		{Start: 8192, End: 16383, Master: test_helpers.MustHostAndPort("10.0.0.4:7000")},
	}

	b, err := slotcache.EncodeClusterSlots(ranges)
	assert.NilError(t, err)

	raw, err := slotcache.DecodeClusterSlots(b)
	assert.NilError(t, err)
	assert.Equal(t, len(raw), 2)
	assert.DeepEqual(t, slotcache.ParseSlotRanges(raw), ranges)
}

func TestSlotRange_EncodeMsgpack(t *testing.T) {
	r := slotcache.SlotRange{Start: 1, End: 2, Master: slotcache.HostAndPort{Host: "h", Port: 3}}

	b, err := msgpack.Marshal(&r)
	assert.NilError(t, err)

	var record []interface{}
	assert.NilError(t, msgpack.Unmarshal(b, &record))
	assert.Equal(t, len(record), 3)
	assert.DeepEqual(t, slotcache.ParseSlotRanges([]interface{}{record}), []slotcache.SlotRange{r})
}

func TestDecodeClusterSlots_Errors(t *testing.T) {
	_, err := slotcache.DecodeClusterSlots([]byte{0xc1})
	assert.ErrorContains(t, err, "can't decode topology reply")

	b, err := msgpack.Marshal("CLUSTERDOWN")
	assert.NilError(t, err)
	_, err = slotcache.DecodeClusterSlots(b)
	assert.ErrorContains(t, err, "not an array")

	b, err = msgpack.Marshal(nil)
	assert.NilError(t, err)
	raw, err := slotcache.DecodeClusterSlots(b)
	assert.NilError(t, err)
	assert.Equal(t, len(raw), 0)
}

func TestKeySlot(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"foo":       12182,
		"bar":       5061,
		"hello":     866,
		"123456789": 12739,
		"user1000":  3443,
	}
	for key, slot := range cases {
		assert.Equal(t, slotcache.KeySlot(key), slot, key)
	}
}

func TestKeySlot_HashTags(t *testing.T) {
	assert.Equal(t, slotcache.KeySlot("{user1000}.following"), slotcache.KeySlot("user1000"))
	assert.Equal(t, slotcache.KeySlot("{user1000}.followers"), slotcache.KeySlot("user1000"))
	assert.Equal(t, slotcache.KeySlot("foo{bar}{zap}"), slotcache.KeySlot("bar"))
	// Empty tags hash the whole key.
	assert.Equal(t, slotcache.KeySlot("foo{}{bar}"), 8363)
	assert.Assert(t, slotcache.KeySlot("{foo") != slotcache.KeySlot("foo"))
}

func TestParseHostAndPort(t *testing.T) {
	node, err := slotcache.ParseHostAndPort("127.0.0.1:7000")
	assert.NilError(t, err)
	assert.Equal(t, node, slotcache.HostAndPort{Host: "127.0.0.1", Port: 7000})
	assert.Equal(t, slotcache.NodeKey(node), "127.0.0.1:7000")

	node, err = slotcache.ParseHostAndPort("[::1]:7000")
	assert.NilError(t, err)
	assert.Equal(t, node.Host, "::1")

	for _, addr := range []string{"", "localhost", "localhost:port", "localhost:70000"} {
		_, err = slotcache.ParseHostAndPort(addr)
		assert.Assert(t, errors.Is(err, slotcache.ErrInvalidAddr), addr)
	}
}

func TestHostPortMapFunc(t *testing.T) {
	var m slotcache.HostPortMap = slotcache.HostPortMapFunc(func(host string, port int) (slotcache.HostAndPort, bool) {
		return slotcache.HostAndPort{Host: host + ".tls", Port: port + 1}, true
	})

	node, ok := m.SSLHostAndPort("redis", 6379)
	assert.Assert(t, ok)
	assert.Equal(t, node.String(), "redis.tls:6380")
}

func TestConnNodeKey(t *testing.T) {
	cluster := test_helpers.NewFakeCluster("127.0.0.1:7000")
	conn, err := cluster.Dial(context.Background(), "127.0.0.1:7000", slotcache.ConnOpts{})
	assert.NilError(t, err)
	assert.Equal(t, slotcache.ConnNodeKey(conn), "127.0.0.1:7000")
}
