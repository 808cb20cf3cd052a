package slotcache

import "time"

// SlotCount is the number of hash slots a cluster key space is split into.
const SlotCount = 16384

const (
	// MaxSlot is the highest valid hash slot.
	MaxSlot = SlotCount - 1

	// Position of the master descriptor inside a topology record:
	// [start, end, master, replica...].
	masterNodeIndex = 2

	maxPort = 65535
)

// default options
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultTimeout        = 2 * time.Second
	DefaultPoolSize       = 1

	clientNamePrefix = "slotcache-"
)

// renewal state
const (
	renewIdle = iota
	renewInProgress
)
