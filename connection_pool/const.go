package connection_pool

// pool state
const (
	connConnected = iota
	connClosed
)
