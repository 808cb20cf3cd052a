package slotcache

import (
	"bytes"
	"fmt"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// DecodeClusterSlots decodes a msgpack encoded topology reply into the
// generic form ParseSlotRanges accepts. Conn implementations speaking a
// msgpack based protocol can return its result from ClusterSlots as is.
func DecodeClusterSlots(b []byte) ([]interface{}, error) {
	d := msgpack.NewDecoder(bytes.NewReader(b))
	v, err := d.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("msgpack: can't decode topology reply: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	records, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("msgpack: topology reply is %T, not an array", v)
	}
	return records, nil
}

// EncodeClusterSlots is the inverse of DecodeClusterSlots.
func EncodeClusterSlots(ranges []SlotRange) ([]byte, error) {
	var buf bytes.Buffer
	e := msgpack.NewEncoder(&buf)
	if err := e.EncodeSliceLen(len(ranges)); err != nil {
		return nil, err
	}
	for i := range ranges {
		if err := ranges[i].EncodeMsgpack(e); err != nil {
			return nil, fmt.Errorf("msgpack: can't encode slot range %d..%d: %w",
				ranges[i].Start, ranges[i].End, err)
		}
	}
	return buf.Bytes(), nil
}
