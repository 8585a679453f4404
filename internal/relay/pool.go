package relay

import "sync"

const (
	DefaultBufferSize = 8 << 10
	MinBufferSize     = 1 << 10
	MaxBufferSize     = 64 << 10
)

// BufferPool hands out fixed-size copy buffers.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers. size is clamped to
// [MinBufferSize, MaxBufferSize]; zero selects DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	switch {
	case size == 0:
		size = DefaultBufferSize
	case size < MinBufferSize:
		size = MinBufferSize
	case size > MaxBufferSize:
		size = MaxBufferSize
	}

	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size returns the length of buffers returned by Get.
func (p *BufferPool) Size() int {
	return p.size
}

func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}
