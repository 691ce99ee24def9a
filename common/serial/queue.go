package serial

import (
	"context"
	"sync"
)

var _ Executor = (*Queue)(nil)

// Queue is an unbounded FIFO drained by a single goroutine.
type Queue struct {
	access sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
	stop   func() bool
}

func NewQueue(ctx context.Context) *Queue {
	queue := &Queue{
		done: make(chan struct{}),
	}
	queue.cond = sync.NewCond(&queue.access)
	queue.stop = context.AfterFunc(ctx, func() {
		queue.Close()
	})
	go queue.loop()
	return queue
}

func (q *Queue) Async(task func()) {
	q.access.Lock()
	defer q.access.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
}

// Close rejects new tasks. Tasks already queued still run before Done is closed.
func (q *Queue) Close() error {
	q.access.Lock()
	defer q.access.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.cond.Signal()
	return nil
}

func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) loop() {
	defer close(q.done)
	defer q.stop()
	for {
		q.access.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.access.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.access.Unlock()
		task()
	}
}
