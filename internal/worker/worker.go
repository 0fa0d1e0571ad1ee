package worker

import "sync"

// Pool runs submitted tasks on a fixed number of goroutines. Calls into
// loaded code block the worker for as long as the callee takes (spec §5);
// sizing the pool to the logical CPU count isolates that from the
// transport's acceptor and connection goroutines.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewPool starts a Pool of size workers. size is clamped to at least 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{jobs: make(chan func(), size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit enqueues task for execution on the pool. It does not wait for the
// task to run; it blocks only while all size*4 queue slots are taken.
func (p *Pool) Submit(task func()) {
	p.jobs <- task
}

// Stop closes the job queue and waits for in-flight and queued tasks to
// drain.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
