// Package pipeline serializes the commands that mutate charger state.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chargepoint/internal/metrics"
)

// Command is one queued state mutation.
type Command interface {
	Name() string
}

// Executor runs commands. Execute is never called concurrently.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Overflow policies for a bounded queue.
const (
	DropOldest = "drop-oldest"
	Reject     = "reject"
)

// Options tunes a Pipeline. Size <= 0 means unbounded. OnDrop is called, outside the queue lock,
// with every command evicted by the drop-oldest policy.
type Options struct {
	Size    int
	Policy  string
	OnDrop  func(Command)
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline is a FIFO of commands drained by a single consumer.
type Pipeline struct {
	size    int
	policy  string
	onDrop  func(Command)
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	queue  []Command
	notify chan struct{}
}

// New creates an empty pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Policy
	if policy != Reject {
		policy = DropOldest
	}
	return &Pipeline{
		size:    opts.Size,
		policy:  policy,
		onDrop:  opts.OnDrop,
		logger:  logger,
		metrics: opts.Metrics,
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue appends cmd without blocking. It returns false when the command was refused.
func (p *Pipeline) Enqueue(cmd Command) bool {
	var dropped Command
	p.mu.Lock()
	if p.size > 0 && len(p.queue) >= p.size {
		if p.policy == Reject {
			depth := len(p.queue)
			p.mu.Unlock()
			p.logger.Warn("pipeline full, rejecting command", zap.String("command", cmd.Name()), zap.Int("depth", depth))
			p.metrics.RecordDropped()
			return false
		}
		dropped = p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.logger.Warn("pipeline full, dropping oldest command",
			zap.String("dropped", dropped.Name()),
			zap.String("command", cmd.Name()),
		)
		p.metrics.RecordDropped()
	}
	p.queue = append(p.queue, cmd)
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)
	if dropped != nil && p.onDrop != nil {
		p.onDrop(dropped)
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of waiting commands.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) next() (Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	cmd := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.metrics.SetQueueDepth(len(p.queue))
	return cmd, true
}

// Run executes commands one at a time until ctx is done. Failed commands are logged and do not
// stop the consumer.
func (p *Pipeline) Run(ctx context.Context, exec Executor) error {
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			cmd, ok := p.next()
			if !ok {
				break
			}
			p.execute(ctx, exec, cmd)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.notify:
		}
	}
}

func (p *Pipeline) execute(ctx context.Context, exec Executor, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("command panicked", zap.String("command", cmd.Name()), zap.Any("panic", r))
			p.metrics.RecordCommandFailure(cmd.Name())
		}
	}()
	if err := exec.Execute(ctx, cmd); err != nil {
		p.logger.Warn("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		p.metrics.RecordCommandFailure(cmd.Name())
	}
}
