package worker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
)

var (
	ErrQuit        = errors.New("worker quit")
	ErrJoinTimeout = errors.New("worker join timed out")
)

// Worker runs tasks one at a time on a single goroutine. Posted tasks run in
// FIFO order; delayed tasks run in fire time order, after any task that was
// already due when they became due.
type Worker struct {
	name string
	log  profile.Logger

	mu       sync.Mutex
	q        taskQueue
	seq      uint64
	quitting bool
	running  bool
	exited   chan struct{}

	wake chan struct{}
}

// Task is a handle to a posted task.
type Task struct {
	w      *Worker
	fn     func()
	when   time.Time
	seq    uint64
	index  int // in the heap, -1 once removed
	ran    bool
	cancel bool
}

// Cancel removes the task if it hasn't run yet. It reports whether the task
// was still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	w := t.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.ran || t.cancel {
		return false
	}
	t.cancel = true
	if t.index >= 0 {
		heap.Remove(&w.q, t.index)
	}
	return true
}

func New(name string) *Worker {
	return &Worker{
		name:   name,
		log:    profile.GetLogger().ChildLogger(map[string]interface{}{"worker": name}),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quitting {
		return ErrQuit
	}
	if w.running {
		return nil
	}
	w.running = true
	go w.loop()
	return nil
}

// Post queues fn to run after every task already queued.
func (w *Worker) Post(fn func()) (*Task, error) {
	return w.enqueue(fn, 0)
}

// PostDelayed queues fn to run once d has elapsed.
func (w *Worker) PostDelayed(d time.Duration, fn func()) (*Task, error) {
	if d < 0 {
		d = 0
	}
	return w.enqueue(fn, d)
}

func (w *Worker) enqueue(fn func(), d time.Duration) (*Task, error) {
	w.mu.Lock()
	if w.quitting {
		w.mu.Unlock()
		return nil, ErrQuit
	}
	w.seq++
	t := &Task{w: w, fn: fn, when: time.Now().Add(d), seq: w.seq}
	heap.Push(&w.q, t)
	w.mu.Unlock()

	w.signal()
	return t, nil
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Quit stops accepting tasks, drops delayed tasks that are not yet due and
// waits up to timeout for the tasks already due to finish.
func (w *Worker) Quit(timeout time.Duration) error {
	w.mu.Lock()
	if !w.quitting {
		w.quitting = true
		now := time.Now()
		kept := w.q[:0]
		for _, t := range w.q {
			if t.when.After(now) {
				t.cancel = true
				t.index = -1
				continue
			}
			kept = append(kept, t)
		}
		w.q = kept
		for i, t := range w.q {
			t.index = i
		}
		heap.Init(&w.q)
	}
	running := w.running
	w.mu.Unlock()

	if !running {
		return nil
	}
	w.signal()

	select {
	case <-w.exited:
		return nil
	case <-time.After(timeout):
		return errors.Wrapf(ErrJoinTimeout, "%s after %v", w.name, timeout)
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

func (w *Worker) loop() {
	defer close(w.exited)

	var timer *time.Timer
	for {
		w.mu.Lock()
		var next *Task
		var wait time.Duration
		empty := len(w.q) == 0
		if !empty {
			head := w.q[0]
			wait = time.Until(head.when)
			if wait <= 0 {
				next = heap.Pop(&w.q).(*Task)
				next.ran = true
			}
		} else if w.quitting {
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		if next != nil {
			w.run(next)
			continue
		}

		if empty {
			<-w.wake
			continue
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// run executes one task. A panic in the task is logged and the loop goes on.
func (w *Worker) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("task panicked: %v", r)
		}
	}()
	t.fn()
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].when.Equal(q[j].when) {
		return q[i].seq < q[j].seq
	}
	return q[i].when.Before(q[j].when)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Flush waits until every task posted before the call has run.
// It must not be called from the worker goroutine.
func (w *Worker) Flush(timeout time.Duration) error {
	ch := make(chan struct{})
	if _, err := w.Post(func() { close(ch) }); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return errors.Wrapf(ErrJoinTimeout, "%s flush after %v", w.name, timeout)
	}
}
