package kafka

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// WorkerPool runs jobs on at most size goroutines at a time. The consumption
// loop uses it to handle the partitions of one fetch concurrently.
type WorkerPool struct {
	Name string

	sem    chan struct{}
	wg     sync.WaitGroup
	logger *logrus.Entry

	workercnt atomic.Int64
}

func NewPool(name string, size int, logger *logrus.Entry) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		Name:   name,
		sem:    make(chan struct{}, size),
		logger: logger.WithField("pool", name),
	}
}

// Go blocks until a worker slot is free, then runs job on it.
func (wp *WorkerPool) Go(job func()) {
	wp.sem <- struct{}{}
	wp.wg.Add(1)

	id := fmt.Sprintf("%s-%06d", wp.Name, wp.workercnt.Add(1))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				wp.logger.WithField("worker.id", id).Errorf("recovered from panic: %v\n%s", r, debug.Stack())
			}
			<-wp.sem
			wp.wg.Done()
		}()

		job()
	}()
}

// Wait blocks until every started job has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) Size() int { return cap(wp.sem) }
