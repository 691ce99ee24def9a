package serial

var _ Executor = (*Loop)(nil)

// Loop is a manually driven Executor: tasks wait until Drain runs them on the calling
// goroutine. It is not safe for concurrent use.
type Loop struct {
	tasks []func()
}

func (l *Loop) Async(task func()) {
	l.tasks = append(l.tasks, task)
}

func (l *Loop) Len() int {
	return len(l.tasks)
}

// Drain runs queued tasks, including tasks queued while draining, until none is left.
func (l *Loop) Drain() int {
	var count int
	for len(l.tasks) > 0 {
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		task()
		count++
	}
	return count
}
