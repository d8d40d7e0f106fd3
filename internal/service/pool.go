package service

import (
	"sync"
)

// fieldPool runs per-field work on a fixed number of workers fed from a
// queue of field indices. Fields share no state, so results are written to
// per-index slots and their order does not depend on scheduling.
type fieldPool struct {
	workers int
	queue   chan int
	wg      sync.WaitGroup
	run     func(idx int)
}

func newFieldPool(workers, fields int, run func(idx int)) *fieldPool {
	if workers <= 0 {
		workers = 1
	}
	if workers > fields {
		workers = fields
	}
	return &fieldPool{
		workers: workers,
		queue:   make(chan int, fields),
		run:     run,
	}
}

// Run enqueues every field, starts the workers and waits for them to drain
// the queue.
func (p *fieldPool) Run(fields int) {
	for i := 0; i < fields; i++ {
		p.queue <- i
	}
	close(p.queue)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Wait()
}

func (p *fieldPool) worker() {
	defer p.wg.Done()
	for idx := range p.queue {
		p.run(idx)
	}
}
