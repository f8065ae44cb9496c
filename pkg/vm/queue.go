package vm

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultQueueSize is the default maximum number of pending tasks.
const DefaultQueueSize = 1000

// Task is work produced off the script thread (a finished fetch, a decoded
// sound, an input event) that must run on it.
type Task struct {
	// Source names the producer for logs.
	Source string
	// Timestamp orders tasks. Push assigns one when unset.
	Timestamp time.Time
	// Run executes on the script thread.
	Run func(m *Machine)
	// Drop, when set, runs on the script thread in place of Run if the
	// task was discarded from a full queue.
	Drop func(m *Machine)
}

// Queue is a thread-safe multi-producer queue drained by the script thread.
// Tasks come out in timestamp order; when the queue is full the oldest task
// is discarded and its Drop hook is scheduled instead.
type Queue struct {
	tasks     []*Task
	discarded []*Task
	maxSize   int
	dropped   int
	mu        sync.Mutex
}

// NewQueue creates a queue with the default maximum size.
func NewQueue() *Queue {
	return NewQueueWithSize(DefaultQueueSize)
}

// NewQueueWithSize creates a queue holding at most maxSize tasks.
func NewQueueWithSize(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	return &Queue{
		tasks:   make([]*Task, 0, min(maxSize, 64)),
		maxSize: maxSize,
	}
}

// Push adds a task.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if len(q.tasks) >= q.maxSize {
		if old := q.tasks[0]; old.Drop != nil {
			q.discarded = append(q.discarded, old)
		}
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.dropped++
	}
	q.tasks = append(q.tasks, t)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Timestamp.Before(q.tasks[j].Timestamp)
	})
}

// Post is a shorthand for pushing a function.
func (q *Queue) Post(source string, run func(m *Machine)) {
	q.Push(&Task{Source: source, Run: run})
}

// Drain removes and returns every pending task in order.
func (q *Queue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = make([]*Task, 0, cap(tasks))
	return tasks
}

// drainDiscarded removes and returns the dropped tasks with a Drop hook.
func (q *Queue) drainDiscarded() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.discarded
	q.discarded = nil
	return tasks
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Dropped returns how many tasks were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear removes all pending tasks. Their Drop hooks still run.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.Drop != nil {
			q.discarded = append(q.discarded, t)
		}
	}
	clear(q.tasks)
	q.tasks = q.tasks[:0]
}

// RunQueue drains the queue and runs every task on the calling goroutine,
// which must be the script thread. Drop hooks of discarded tasks run first.
// It returns the number of tasks run.
func (m *Machine) RunQueue() int {
	for _, t := range m.queue.drainDiscarded() {
		m.runTask(t, t.Drop)
	}
	tasks := m.queue.Drain()
	for _, t := range tasks {
		m.runTask(t, t.Run)
	}
	return len(tasks)
}

func (m *Machine) runTask(t *Task, run func(*Machine)) {
	defer func() {
		if r := recover(); r != nil {
			m.report(Diagnostic{Kind: DiagInternal, Message: fmt.Sprintf("task from %s: %v", t.Source, r)})
		}
	}()
	run(m)
}
