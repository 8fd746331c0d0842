package iso8583

import "sync"

// bufferPool holds scratch buffers for packing. Messages are not pooled.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, DefaultBufferSize)
		return &buf
	},
}

func getBuffer() []byte {
	buf := bufferPool.Get().(*[]byte)
	return (*buf)[:0]
}

func putBuffer(buf []byte) {
	if cap(buf) <= 2*DefaultBufferSize { // Don't pool huge buffers
		b := buf[:0]
		bufferPool.Put(&b)
	}
}
