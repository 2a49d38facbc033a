package realtime

import "sync"

// worker runs presence and store writes in submission order on its own
// goroutine so hub callbacks never wait on Redis or the database.
type worker struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

func newWorker() *worker {
	return &worker{wake: make(chan struct{}, 1)}
}

// submit queues fn without blocking.
func (w *worker) submit(fn func()) {
	w.mu.Lock()
	w.tasks = append(w.tasks, fn)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until done is closed. Tasks still queued at that
// point are discarded.
func (w *worker) run(done <-chan struct{}) {
	for {
		select {
		case <-w.wake:
		case <-done:
			return
		}
		for {
			w.mu.Lock()
			if len(w.tasks) == 0 {
				w.mu.Unlock()
				break
			}
			fn := w.tasks[0]
			w.tasks[0] = nil
			w.tasks = w.tasks[1:]
			w.mu.Unlock()
			fn()
		}
	}
}
