// Package pool bounds how many render tasks of one kind run at a time.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	name string
	size int
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{name: name, size: size, sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return p.size }

// Do runs fn on a free slot, waiting for one until ctx ends.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	p.wg.Add(1)
	defer p.wg.Done()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Go is Do on a new goroutine. The channel receives exactly one value.
func (p *Pool) Go(ctx context.Context, fn func() error) <-chan error {
	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		done <- p.Do(ctx, fn)
	}()
	return done
}

// Wait blocks until every task has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
