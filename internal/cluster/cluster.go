// Package cluster provides the in-process execution context that runs
// partition tasks on a fixed number of worker goroutines.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("cluster is closed")

type Options struct {
	// Workers defaults to the number of CPUs.
	Workers int
	Logger  *slog.Logger
}

type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Cluster struct {
	workers int
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mutex   sync.Mutex
	closed  bool
}

// New starts a cluster.  Cancelling ctx stops any running tasks.  Close must
// be called when the cluster is no longer needed.
func New(ctx context.Context, options *Options) (*Cluster, error) {
	if options == nil {
		options = &Options{}
	}
	workers := options.Workers
	if workers < 0 {
		return nil, fmt.Errorf("invalid number of workers: %d", workers)
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clusterCtx, cancel := context.WithCancel(ctx)
	c := &Cluster{
		workers: workers,
		logger:  logger,
		ctx:     clusterCtx,
		cancel:  cancel,
	}
	logger.Debug("started cluster", slog.Int("workers", workers))
	return c, nil
}

func (c *Cluster) Workers() int {
	return c.workers
}

func (c *Cluster) Logger() *slog.Logger {
	return c.logger
}

// Run executes the tasks with at most Workers running at once and waits for
// them to finish.  The first task error cancels the remaining tasks and is
// returned.  Tasks are not retried.
func (c *Cluster) Run(ctx context.Context, tasks []*Task) error {
	c.mutex.Lock()
	closed := c.closed
	c.mutex.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.SetLimit(c.workers)

	for _, task := range tasks {
		task := task
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			start := time.Now()
			if err := task.Run(groupCtx); err != nil {
				return fmt.Errorf("task %s failed: %w", task.Name, err)
			}
			c.logger.Debug("finished task", slog.String("task", task.Name), slog.Duration("elapsed", time.Since(start)))
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return ctx.Err()
}

// Close stops the cluster.  It is safe to call more than once.
func (c *Cluster) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.logger.Debug("closed cluster")
	return nil
}
