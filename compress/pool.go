package compress

import "sync"

// Pool manages reusable Codecs to avoid paying zstd's encoder/decoder setup
// cost on every call. It pools whole Codecs (encoder+decoder) rather than
// decoders alone, since localcache.Store needs both directions.
type Pool struct {
	pool *sync.Pool
}

// NewPool creates an empty Codec pool.
func NewPool() *Pool {
	return &Pool{
		pool: &sync.Pool{
			New: func() any {
				c, err := New()
				if err != nil {
					return nil
				}
				return c
			},
		},
	}
}

// Get returns a Codec for the caller's exclusive use until release is
// called. If the pool's constructor fails (e.g. resource exhaustion), Get
// falls back to a one-off Codec rather than returning a nil one.
func (p *Pool) Get() (codec *Codec, release func(), err error) {
	v := p.pool.Get()
	c, ok := v.(*Codec)
	if !ok || c == nil {
		c, err = New()
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	return c, func() { p.pool.Put(c) }, nil
}

// Close releases every Codec currently idle in the pool. Codecs checked out
// via Get at the time of Close are not affected; release them normally and
// they'll be dropped rather than returned once Close has run, since Put on
// a pool that's about to be discarded is harmless.
func (p *Pool) Close() {
	// Without a constructor, Get returns nil once the idle Codecs are
	// exhausted instead of building a fresh one, which ends the loop.
	p.pool.New = nil
	for {
		v := p.pool.Get()
		c, ok := v.(*Codec)
		if !ok || c == nil {
			return
		}
		c.Close()
	}
}
