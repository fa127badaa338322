package xhci

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Waker is notified when a registered request is fulfilled. It lets an
// external scheduler resume a task without a goroutine parked in Await.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to [Waker].
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

type requestState uint8

const (
	stateRegistered requestState = iota + 1
	stateFulfilled
	stateAbandoned
)

func (s requestState) String() string {
	switch s {
	case stateRegistered:
		return "registered"
	case stateFulfilled:
		return "fulfilled"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// request is one outstanding block awaiting its completion.
type request struct {
	state  requestState
	waker  Waker
	done   chan struct{}
	result trb.Event

	// dropped entries have no taker; their completion deletes them.
	dropped bool
}

// Registry correlates completion events with the blocks that caused them.
// Entries are keyed by the bus address of the request block.
//
// Each entry moves from registered to fulfilled exactly once and is removed
// when its result is taken. A dropped entry is removed by its completion
// instead, so a caller that stops waiting does not pin the address. An entry
// whose completion never arrives stays until the address is forgotten.
type Registry struct {
	mu       sync.Mutex
	requests map[dma.Addr]*request
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{requests: make(map[dma.Addr]*request)}
}

// Register records an outstanding request at addr. w may be nil.
func (r *Registry) Register(addr dma.Addr, w Waker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req, ok := r.requests[addr]; ok {
		return fmt.Errorf("%w: %v is %v", ErrDuplicateAddress, addr, req.state)
	}
	r.requests[addr] = &request{
		state: stateRegistered,
		waker: w,
		done:  make(chan struct{}),
	}
	return nil
}

// Fulfill stores evt as the result for addr and resumes its waiter.
func (r *Registry) Fulfill(addr dma.Addr, evt trb.Event) error {
	r.mu.Lock()
	req, ok := r.requests[addr]
	if !ok || req.state != stateRegistered {
		r.mu.Unlock()
		if ok {
			return fmt.Errorf("%w: %v already fulfilled", ErrUnexpectedCompletion, addr)
		}
		return fmt.Errorf("%w: %v", ErrUnexpectedCompletion, addr)
	}
	if req.dropped {
		delete(r.requests, addr)
		r.mu.Unlock()
		pkg.LogDebug(pkg.ComponentRegistry, "dropped completion", "addr", addr)
		return nil
	}
	req.state = stateFulfilled
	req.result = evt
	close(req.done)
	r.mu.Unlock()

	if req.waker != nil {
		req.waker.Wake()
	}
	return nil
}

// Take removes a fulfilled entry and returns its result.
func (r *Registry) Take(addr dma.Addr) (trb.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAddress, addr)
	}
	if req.state != stateFulfilled {
		return nil, fmt.Errorf("%w: %v", ErrNotFulfilled, addr)
	}
	delete(r.requests, addr)
	return req.result, nil
}

// Await blocks until addr is fulfilled, then takes its result. If ctx ends
// first Await returns ctx.Err() and drops the entry: the block is still
// outstanding, but its completion will be discarded on arrival.
func (r *Registry) Await(ctx context.Context, addr dma.Addr) (trb.Event, error) {
	r.mu.Lock()
	req, ok := r.requests[addr]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAddress, addr)
	}

	select {
	case <-req.done:
		if req.state == stateAbandoned {
			return nil, fmt.Errorf("%w: %v", pkg.ErrCancelled, addr)
		}
		return r.Take(addr)
	case <-ctx.Done():
		pkg.LogDebug(pkg.ComponentRegistry, "wait abandoned", "addr", addr, "error", ctx.Err())
		r.drop(addr, req)
		return nil, ctx.Err()
	}
}

// Drop gives up on the entries at addrs. Fulfilled entries are removed now;
// registered ones are removed when their completion arrives. Unlike
// [Registry.Forget] the controller is still expected to complete them, and
// their wakers are not called.
func (r *Registry) Drop(addrs ...dma.Addr) {
	for _, a := range addrs {
		r.drop(a, nil)
	}
}

// drop releases addr if it still holds want, or any entry when want is nil.
func (r *Registry) drop(addr dma.Addr, want *request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[addr]
	if !ok || (want != nil && req != want) {
		return
	}
	switch req.state {
	case stateRegistered:
		req.dropped = true
	case stateFulfilled:
		delete(r.requests, addr)
	}
}

// Pending returns the number of entries, fulfilled or not.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Forget drops the entries at addrs whatever their state and returns how
// many existed. Goroutines waiting in Await on an unfulfilled entry return
// [pkg.ErrCancelled]. It is used once the controller is known never to
// complete the requests, such as after an endpoint halts.
func (r *Registry) Forget(addrs ...dma.Addr) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range addrs {
		req, ok := r.requests[a]
		if !ok {
			continue
		}
		if req.state == stateRegistered {
			req.state = stateAbandoned
			close(req.done)
		}
		delete(r.requests, a)
		n++
	}
	return n
}
