package transport

import (
	"sync"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, protocol.MaxMessageSize)
		return &b
	},
}

// GetBuffer returns a receive buffer of protocol.MaxMessageSize bytes.
// Return it with PutBuffer when done.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool.
func PutBuffer(b *[]byte) {
	if b == nil || cap(*b) < protocol.MaxMessageSize {
		return
	}
	*b = (*b)[:protocol.MaxMessageSize]
	bufferPool.Put(b)
}
