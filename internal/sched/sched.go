// Package sched serializes commands against a single device. Commands wait
// in a pending list until every event they depend on has completed, then
// move to a ready list that exactly one goroutine at a time drains.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/samcharles93/vxcl/internal/logger"
)

var (
	// ErrUpstreamFailed is the error of every command whose dependency failed.
	ErrUpstreamFailed = errors.New("sched: upstream command failed")
	ErrClosed         = errors.New("sched: scheduler closed")
	ErrResubmitted    = errors.New("sched: node already submitted")
	ErrHoldSubmitted  = errors.New("sched: hold on a submitted node")
)

type State uint32

const (
	StateCreated State = iota
	StatePending
	StateReady
	StateExecuting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Kind tags what a command does; the scheduler treats all kinds alike.
type Kind string

const (
	KindLaunch Kind = "launch"
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
)

// Func is the body of a command. It runs without the scheduler lock held.
type Func func(ctx context.Context) error

// Node is one schedulable command.
type Node struct {
	ID    uuid.UUID
	Kind  Kind
	Label string

	fn    Func
	state atomic.Uint32
	err   error
	done  chan struct{}

	// guarded by the scheduler lock
	waiting    int
	submitted  bool
	slot       int32
	dependents []*Node
}

func NewNode(kind Kind, label string, fn Func) *Node {
	n := &Node{
		ID:    uuid.New(),
		Kind:  kind,
		Label: label,
		fn:    fn,
		done:  make(chan struct{}),
		slot:  none,
	}
	return n
}

func (n *Node) State() State { return State(n.state.Load()) }

// Done is closed once the node reached StateDone or StateFailed.
func (n *Node) Done() <-chan struct{} { return n.done }

// Err returns the terminal error. It is only meaningful after Done.
func (n *Node) Err() error {
	select {
	case <-n.done:
		return n.err
	default:
		return nil
	}
}

// Wait blocks until the node finishes or ctx ends. Cancelling ctx stops the
// wait only; the command itself still runs.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case <-n.done:
		return n.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) String() string {
	if n.Label == "" {
		return fmt.Sprintf("%s/%s", n.Kind, n.ID)
	}
	return fmt.Sprintf("%s(%s)/%s", n.Kind, n.Label, n.ID)
}

// Stats is a snapshot of the queue state.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
	Ready     int    `json:"ready"`
	Draining  bool   `json:"draining"`
}

type Scheduler struct {
	ctx context.Context
	log logger.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	arena    arena
	pending  queue
	ready    queue
	draining bool
	closed   error
	stats    Stats
}

// New creates a scheduler whose commands run with ctx.
func New(ctx context.Context, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	s := &Scheduler{
		ctx:     ctx,
		log:     log,
		pending: newQueue(),
		ready:   newQueue(),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Submit enqueues n after the given upstream nodes and drains whatever is
// ready. A node whose upstream already failed is failed immediately and
// never runs.
func (s *Scheduler) Submit(n *Node, after ...*Node) error {
	s.mu.Lock()
	if n.submitted {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrResubmitted, n)
	}
	n.submitted = true
	s.stats.Submitted++
	if n.State() == StateFailed {
		// Failed by Notify before submission.
		err := n.err
		s.mu.Unlock()
		return err
	}
	if s.closed != nil {
		s.failLocked(n, s.closed)
		s.mu.Unlock()
		return s.closed
	}

	var upstreamErr error
	for _, u := range after {
		if u == nil || u == n {
			continue
		}
		switch u.State() {
		case StateDone:
		case StateFailed:
			if upstreamErr == nil {
				upstreamErr = u.err
			}
		default:
			u.dependents = append(u.dependents, n)
			n.waiting++
		}
	}
	if upstreamErr != nil {
		// Dependents registered above are detached by the node's terminal
		// state; notifyLocked ignores finished nodes.
		s.failLocked(n, fmt.Errorf("%w: %w", ErrUpstreamFailed, upstreamErr))
		s.mu.Unlock()
		return nil
	}

	n.slot = s.arena.alloc(n)
	if n.waiting == 0 {
		n.state.Store(uint32(StateReady))
		s.ready.pushBack(&s.arena, n.slot)
	} else {
		n.state.Store(uint32(StatePending))
		s.pending.pushBack(&s.arena, n.slot)
	}
	s.log.Debug("command submitted", "command", n.ID, "kind", n.Kind, "state", n.State())
	s.mu.Unlock()

	s.drain()
	return nil
}

// Hold adds an external event n must wait for before it becomes ready.
// Release it with Notify. A node accepts holds only until it is submitted.
func (s *Scheduler) Hold(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.submitted {
		return fmt.Errorf("%w: %s", ErrHoldSubmitted, n)
	}
	n.waiting++
	return nil
}

// Notify reports that one event n waits for has completed. A non-nil err
// fails n and, transitively, every node depending on it.
func (s *Scheduler) Notify(n *Node, err error) {
	s.mu.Lock()
	if n.State() == StateCreated {
		if err != nil {
			s.failLocked(n, fmt.Errorf("%w: %w", ErrUpstreamFailed, err))
		} else if n.waiting > 0 {
			n.waiting--
		}
		s.mu.Unlock()
		return
	}
	s.notifyLocked(n, err)
	s.mu.Unlock()
	s.drain()
}

// Flush drains the ready list unless another goroutine already does.
func (s *Scheduler) Flush() { s.drain() }

// Join drains and then blocks until no command is executing and the ready
// list is empty. Pending commands still waiting on events are not awaited.
func (s *Scheduler) Join() {
	for {
		s.drain()
		s.mu.Lock()
		for s.draining {
			s.idle.Wait()
		}
		empty := s.ready.len() == 0
		s.mu.Unlock()
		if empty {
			return
		}
	}
}

// Close fails every queued command with err (ErrClosed when nil) and
// rejects later submissions. A command already executing completes.
func (s *Scheduler) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed != nil {
		return
	}
	s.closed = err
	var queued []*Node
	s.ready.each(&s.arena, func(n *Node) { queued = append(queued, n) })
	s.pending.each(&s.arena, func(n *Node) { queued = append(queued, n) })
	for _, n := range queued {
		s.unlinkLocked(n)
		s.failLocked(n, err)
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = s.pending.len()
	st.Ready = s.ready.len()
	st.Draining = s.draining
	return st
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		i := s.ready.popFront(&s.arena)
		if i == none {
			break
		}
		n := s.arena.links[i].node
		s.arena.release(i)
		n.slot = none
		n.state.Store(uint32(StateExecuting))
		s.mu.Unlock()

		err := s.run(n)

		s.mu.Lock()
		if err != nil {
			s.log.Debug("command failed", "command", n.ID, "kind", n.Kind, "error", err)
			s.failLocked(n, err)
			continue
		}
		s.stats.Executed++
		n.state.Store(uint32(StateDone))
		close(n.done)
		for _, d := range n.dependents {
			s.notifyLocked(d, nil)
		}
		n.dependents = nil
	}
	s.draining = false
	s.idle.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) run(n *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sched: command %s panicked: %v", n, r)
		}
	}()
	if n.fn == nil {
		return nil
	}
	return n.fn(s.ctx)
}

// notifyLocked releases one wait of n. Ready nodes go to the front of the
// ready list so a completion-triggered command runs before older ready work.
func (s *Scheduler) notifyLocked(n *Node, err error) {
	st := n.State()
	if st != StatePending && st != StateReady {
		return
	}
	if err != nil {
		s.unlinkLocked(n)
		s.failLocked(n, fmt.Errorf("%w: %w", ErrUpstreamFailed, err))
		return
	}
	if n.waiting > 0 {
		n.waiting--
	}
	if n.waiting == 0 && st == StatePending {
		s.pending.remove(&s.arena, n.slot)
		s.ready.pushFront(&s.arena, n.slot)
		n.state.Store(uint32(StateReady))
	}
}

func (s *Scheduler) unlinkLocked(n *Node) {
	if n.slot == none {
		return
	}
	switch n.State() {
	case StatePending:
		s.pending.remove(&s.arena, n.slot)
	case StateReady:
		s.ready.remove(&s.arena, n.slot)
	}
	s.arena.release(n.slot)
	n.slot = none
}

func (s *Scheduler) failLocked(n *Node, err error) {
	st := n.State()
	if st == StateDone || st == StateFailed {
		return
	}
	s.stats.Failed++
	n.err = err
	n.state.Store(uint32(StateFailed))
	close(n.done)
	deps := n.dependents
	n.dependents = nil
	for _, d := range deps {
		s.notifyLocked(d, err)
	}
}
