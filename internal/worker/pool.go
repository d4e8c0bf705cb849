package worker

import (
	"sync"

	"github.com/trellispay/trellis/internal/metrics"
)

type task func()

type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f task) {
	p.jobs <- f
	metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
}

func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
