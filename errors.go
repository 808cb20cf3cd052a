package slotcache

import "github.com/pkg/errors"

var (
	ErrNoPoolFactory = errors.New("pool factory should not be nil")
	ErrWrongTimeout  = errors.New("wrong timeout, must not be negative")
	ErrWrongPoolSize = errors.New("wrong pool size, must not be negative")
	ErrInvalidSlot   = errors.New("slot is out of range")
	ErrInvalidAddr   = errors.New("address should be in host:port form")
	ErrNilConn       = errors.New("connection should not be nil")
)
