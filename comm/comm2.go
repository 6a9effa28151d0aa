package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds one or more connections to a daemon.  Idle connections are
// closed once every connection has been returned and the timeout elapsed, and
// re-opened as needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after the last Put to free all connections
	conns   chan io.ReadWriteCloser // idle connections
	slots   chan struct{}           // one token per connection that may be leased
	timer   *time.Timer             // pending reclaim, nil if none
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool returns a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		maker:   maker,
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  It is guaranteed that there is no contention for the connection.
//
// When done with it, return it with Put(), or discard it with Destroy() if it
// has gone bad (e.g., a read failed half way through a telegram).  Destroy
// frees the slot, and a blocked Get then dials a fresh connection.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.slots <- struct{}{}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	select {
	case ret := <-p.conns:
		p.onLease++
		return ret, nil
	default:
	}
	c, err := p.maker()
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(rwc io.ReadWriteCloser) {
	p.mu.Lock()
	p.conns <- rwc
	p.onLease--
	if p.onLease == 0 && p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
	p.mu.Unlock()
	<-p.slots
}

// Destroy immediately closes a connection leased from the pool
func (p *Pool) Destroy(rwc io.ReadWriteCloser) {
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.slots
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes every idle connection.  Leased connections are closed when
// they are returned after the timeout.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return p.drain()
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease == 0 {
		p.drain()
	}
}

// drain closes the idle connections.  The caller holds the lock.
func (p *Pool) drain() error {
	var first error
	for {
		select {
		case c := <-p.conns:
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		default:
			return first
		}
	}
}
