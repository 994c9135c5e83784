package retrieval

import (
	"context"
	"sync"
)

type call struct {
	done    chan struct{}
	res     Response
	err     error
	waiters int
	cancel  context.CancelFunc
}

// coalescer runs one computation per key at a time and shares its result with
// every concurrent caller. The computation is cancelled once every caller has
// given up on it.
type coalescer struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newCoalescer() *coalescer {
	return &coalescer{calls: make(map[string]*call)}
}

func (g *coalescer) Do(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, error, bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		c.waiters++
		g.mu.Unlock()
		res, err := g.wait(ctx, key, c)
		return res, err, true
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		defer cancel()
		c.res, c.err = fn(runCtx)

		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	res, err := g.wait(ctx, key, c)
	return res, err, false
}

func (g *coalescer) wait(ctx context.Context, key string, c *call) (Response, error) {
	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			c.cancel()
			// New callers start a fresh computation instead of joining a cancelled one.
			if g.calls[key] == c {
				delete(g.calls, key)
			}
		}
		g.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

func (g *coalescer) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
