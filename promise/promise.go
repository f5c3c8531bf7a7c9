// Package promise implements the one-shot, executor-bound future used
// by every async component in this module: created pending, settled
// exactly once with a value or an error, dispatching its callback onto
// its bound executor.
package promise

import (
	"sync"

	"github.com/opencardev/aahead/executor"
)

// Promise is a one-shot future for a value of type T. It is created
// bound to an executor; Resolve/Reject settle it exactly once and post
// the matching callback onto that executor.
type Promise[T any] struct {
	exec executor.Executor

	mu       sync.Mutex
	settled  bool
	onOK     func(T)
	onErr    func(error)
	value    T
	err      error
	hasValue bool
}

// New creates a pending Promise bound to exec.
func New[T any](exec executor.Executor) *Promise[T] {
	return &Promise[T]{exec: exec}
}

// Then installs the success and failure callbacks. If the Promise has
// already settled, the corresponding callback is posted immediately.
// On a pending Promise a later call to Then replaces the callbacks
// installed earlier; on a settled Promise every call posts its own
// matching callback.
func (p *Promise[T]) Then(onOK func(T), onErr func(error)) {
	p.mu.Lock()
	if p.settled {
		settledOK, settledErr, val, err := p.hasValue, !p.hasValue, p.value, p.err
		p.mu.Unlock()
		p.dispatchSettled(settledOK, settledErr, val, err, onOK, onErr)
		return
	}
	p.onOK = onOK
	p.onErr = onErr
	p.mu.Unlock()
}

func (p *Promise[T]) dispatchSettled(hasValue, hasErr bool, val T, err error, onOK func(T), onErr func(error)) {
	if hasValue && onOK != nil {
		p.exec.Post(func() { onOK(val) })
	} else if hasErr && onErr != nil {
		p.exec.Post(func() { onErr(err) })
	}
}

// Resolve settles the Promise with v. A Promise that is already
// settled silently drops this call.
func (p *Promise[T]) Resolve(v T) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.hasValue = true
	p.value = v
	cb := p.onOK
	p.onOK, p.onErr = nil, nil
	p.mu.Unlock()

	if cb != nil {
		p.exec.Post(func() { cb(v) })
	}
}

// Reject settles the Promise with err. A Promise that is already
// settled silently drops this call.
func (p *Promise[T]) Reject(err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.err = err
	cb := p.onErr
	p.onOK, p.onErr = nil, nil
	p.mu.Unlock()

	if cb != nil {
		p.exec.Post(func() { cb(err) })
	}
}

// Settled reports whether the Promise has been resolved or rejected.
func (p *Promise[T]) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Link forwards the settlement of a Promise bound to one executor (the
// producing strand) onto a Promise bound to another executor (the
// consuming strand): a shim Promise on the producer's strand whose
// callbacks forward to a caller-owned Promise on the consumer's strand.
func Link[T any](shim *Promise[T], dest *Promise[T]) {
	shim.Then(
		func(v T) { dest.Resolve(v) },
		func(err error) { dest.Reject(err) },
	)
}
