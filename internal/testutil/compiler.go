package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/source"
)

// CountingCompiler wraps a compiler, counting compilations per descriptor.
// Failures and delays can be injected per descriptor.
type CountingCompiler struct {
	next source.Compiler

	mu     sync.Mutex
	counts map[string]int
	total  int
	fail   map[string]error
	delay  map[string]time.Duration
}

var _ source.Compiler = (*CountingCompiler)(nil)

// NewCountingCompiler wraps next.
func NewCountingCompiler(next source.Compiler) *CountingCompiler {
	return &CountingCompiler{
		next:   next,
		counts: make(map[string]int),
		fail:   make(map[string]error),
		delay:  make(map[string]time.Duration),
	}
}

// Compile implements source.Compiler.
func (c *CountingCompiler) Compile(ctx context.Context, src source.Source, env source.Env) (definition.Definition, error) {
	key := src.Descriptor.Key()

	c.mu.Lock()
	c.counts[key]++
	c.total++
	err := c.fail[key]
	delay := c.delay[key]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return c.next.Compile(ctx, src, env)
}

// Count returns how many times d was compiled.
func (c *CountingCompiler) Count(d descriptor.Descriptor) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[d.Key()]
}

// Total returns the number of compilations of any descriptor.
func (c *CountingCompiler) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// FailWith makes every compilation of d return err.
func (c *CountingCompiler) FailWith(d descriptor.Descriptor, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[d.Key()] = err
}

// Delay makes every compilation of d take at least delay.
func (c *CountingCompiler) Delay(d descriptor.Descriptor, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay[d.Key()] = delay
}

// Clear removes injected behavior for d. Counts are kept.
func (c *CountingCompiler) Clear(d descriptor.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fail, d.Key())
	delete(c.delay, d.Key())
}
