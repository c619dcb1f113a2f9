package testutil

import (
	"sync"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/policy"
)

// CountingEvaluator wraps an access evaluator, counting evaluations.
type CountingEvaluator struct {
	next policy.AccessEvaluator

	mu    sync.Mutex
	pairs map[string]int
	total int
}

var _ policy.AccessEvaluator = (*CountingEvaluator)(nil)

// NewCountingEvaluator wraps next. A nil next allows everything.
func NewCountingEvaluator(next policy.AccessEvaluator) *CountingEvaluator {
	if next == nil {
		next = policy.AllowAll
	}
	return &CountingEvaluator{next: next, pairs: make(map[string]int)}
}

// Evaluate implements policy.AccessEvaluator.
func (e *CountingEvaluator) Evaluate(referencer *descriptor.Descriptor, target definition.Definition) policy.Decision {
	e.mu.Lock()
	e.pairs[pairKey(referencer, target.Descriptor())]++
	e.total++
	e.mu.Unlock()
	return e.next.Evaluate(referencer, target)
}

// Count returns how many times the pair was evaluated. A nil referencer is a
// top-level request.
func (e *CountingEvaluator) Count(referencer *descriptor.Descriptor, target descriptor.Descriptor) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairs[pairKey(referencer, target)]
}

// Total returns the number of evaluations.
func (e *CountingEvaluator) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func pairKey(referencer *descriptor.Descriptor, target descriptor.Descriptor) string {
	if referencer == nil {
		return "<top>|" + target.Key()
	}
	return referencer.Key() + "|" + target.Key()
}
