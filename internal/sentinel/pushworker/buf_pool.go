package pushworker

// BufPool 单线程字节切片池，只在推送循环内使用
type BufPool struct {
	pool    [][]byte
	bufSize int
	maxSize int
}

// NewBufPool 预分配 preAlloc 个容量为 bufSize 的 buf，最多缓存 maxSize 个
func NewBufPool(preAlloc, maxSize, bufSize int) *BufPool {
	p := &BufPool{
		pool:    make([][]byte, 0, maxSize),
		bufSize: bufSize,
		maxSize: maxSize,
	}
	for i := 0; i < min(preAlloc, maxSize); i++ {
		p.pool = append(p.pool, make([]byte, 0, bufSize))
	}
	return p
}

func (p *BufPool) Get() []byte {
	if n := len(p.pool); n > 0 {
		buf := p.pool[n-1]
		p.pool[n-1] = nil
		p.pool = p.pool[:n-1]
		return buf[:0]
	}
	return make([]byte, 0, p.bufSize)
}

// Put 归还 buf；池满或 buf 过大（超过 4 倍 bufSize）时丢弃
func (p *BufPool) Put(buf []byte) {
	if len(p.pool) >= p.maxSize || cap(buf) == 0 || cap(buf) > 4*p.bufSize {
		return
	}
	p.pool = append(p.pool, buf[:0])
}

func (p *BufPool) Len() int {
	return len(p.pool)
}
