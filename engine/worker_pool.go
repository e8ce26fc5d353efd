package engine

import (
	"context"
	"sync"
)

// JobHandler is a function that processes a BatchJob.
type JobHandler func(context.Context, BatchJob) error

// WorkerPool runs independent batches on a resizable set of workers. Files
// of one batch are never spread over workers.
type WorkerPool struct {
	jobChan JobChannel
	handler JobHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	workers     map[int]chan struct{}
	workerCount int
	nextID      int
	wg          sync.WaitGroup
}

// NewWorkerPool creates a new dynamic worker pool.
func NewWorkerPool(ctx context.Context, jobChan JobChannel, handler JobHandler) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		jobChan: jobChan,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int]chan struct{}),
	}
}

// TransporterHandler returns a JobHandler running each job's request on t
// and handing the outcome to the job's Done callback.
func TransporterHandler(t *Transporter) JobHandler {
	return func(ctx context.Context, job BatchJob) error {
		result, err := t.Run(ctx, job.Request)
		if job.Done != nil {
			job.Done(result, err)
		}
		return err
	}
}

// SetWorkerCount scales the number of workers up or down gracefully.
func (p *WorkerPool) SetWorkerCount(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.workerCount < count {
		p.addWorker()
	}

	for p.workerCount > count {
		p.removeWorker()
	}
}

// WorkerCount returns the current target number of workers.
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerCount
}

func (p *WorkerPool) addWorker() {
	quitChan := make(chan struct{})
	id := p.nextID
	p.nextID++
	p.workers[id] = quitChan
	p.workerCount++
	p.wg.Add(1)

	go func(id int, quit chan struct{}) {
		defer p.wg.Done()
		for {
			// Prioritize quit and context cancellation checking
			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			default:
			}

			select {
			case <-quit:
				// Worker decommissioned gracefully
				return
			case <-p.ctx.Done():
				return
			case job, ok := <-p.jobChan:
				if !ok {
					return
				}
				// A batch reports its own failure through Done.
				_ = p.handler(p.ctx, job)
			}
		}
	}(id, quitChan)
}

func (p *WorkerPool) removeWorker() {
	for id, quit := range p.workers {
		close(quit) // the worker exits once its current batch is done
		delete(p.workers, id)
		p.workerCount--
		return
	}
}

// Wait blocks until every worker has exited, which happens once the job
// channel is closed and drained.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Stop cancels running batches and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
