package dynamo

import "sync"

// PairPool hands out packed [u…, v…] scratch buffers for one grid, so
// concurrent Laplacian evaluations never share a buffer. Buffers are not
// zeroed; callers overwrite them.
type PairPool struct {
	grid Grid
	pool sync.Pool
}

func NewPairPool(g Grid) *PairPool {
	p := &PairPool{grid: g}
	p.pool.New = func() any {
		buf := make(State, 2*g.Points())
		return &buf
	}
	return p
}

func (p *PairPool) Grid() Grid { return p.grid }

// Get returns a buffer and its u/v views. Return the buffer with Put.
func (p *PairPool) Get() (*State, FieldPair) {
	buf := p.pool.Get().(*State)
	np := p.grid.Points()
	return buf, FieldPair{U: Field((*buf)[:np:np]), V: Field((*buf)[np:])}
}

// Put drops buffers of the wrong size instead of pooling them.
func (p *PairPool) Put(buf *State) {
	if buf != nil && len(*buf) == 2*p.grid.Points() {
		p.pool.Put(buf)
	}
}
