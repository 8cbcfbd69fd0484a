package driver

import (
	"context"

	"github.com/google/uuid"

	"github.com/samcharles93/vxcl/internal/sched"
)

// Command is an enqueued launch or transfer. Pass it to waitFor to order
// later work after it.
type Command struct {
	node *sched.Node
}

func (c *Command) ID() uuid.UUID         { return c.node.ID }
func (c *Command) State() sched.State    { return c.node.State() }
func (c *Command) Done() <-chan struct{} { return c.node.Done() }
func (c *Command) Err() error            { return c.node.Err() }
func (c *Command) String() string        { return c.node.String() }

// Wait blocks until the command completes or ctx ends. A command whose
// dependency failed returns an error matching ErrUpstreamFailed.
func (c *Command) Wait(ctx context.Context) error { return c.node.Wait(ctx) }
