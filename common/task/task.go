package task

import (
	"context"
	"sync"
)

// Run starts every task and waits until one fails, all finish, or ctx is done. The
// returned error is the first task error, or nil when every task returned nil.
func Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				errOnce.Do(func() {
					firstErr = err
				})
				cancel()
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}
