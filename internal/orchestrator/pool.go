package orchestrator

import "sync"

// workerPool is a fixed-size pool draining a task queue. Submit blocks when
// the queue is full, which bounds in-flight work to the worker budget.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &workerPool{tasks: make(chan func(), workers*2)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues one task. The caller must not Submit after Close.
func (p *workerPool) Submit(task func()) {
	p.tasks <- task
}

// Close stops intake and waits for queued tasks to finish.
func (p *workerPool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
