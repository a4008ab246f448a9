// Package memqueue is an in-process job queue: a bounded worker pool for
// update jobs plus a delayed-job timer heap for ProviderEmitter's GC
// scheduling.
package memqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/craftreg/registry/pkg/queue"
)

// Queue runs update and delete jobs on a bounded worker pool.
type Queue struct {
	log *logrus.Entry

	onUpdate queue.UpdateHandler
	onDelete queue.DeleteHandler

	guardChan chan struct{}

	mu      sync.Mutex
	timers  delayedJobHeap
	wakeup  chan struct{}
	closing chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// delayedJob is a DeletePaths job waiting for its fire time.
type delayedJob struct {
	fireAt time.Time
	paths  []string
	index  int
}

type delayedJobHeap []*delayedJob

func (h delayedJobHeap) Len() int            { return len(h) }
func (h delayedJobHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h delayedJobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayedJobHeap) Push(x interface{}) {
	j := x.(*delayedJob)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *delayedJobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// New starts a Queue with concurrency concurrent update workers, calling
// onUpdate/onDelete for each job. Call Close to stop the background
// dispatcher goroutine.
func New(concurrency int, onUpdate queue.UpdateHandler, onDelete queue.DeleteHandler, log *logrus.Entry) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{
		log:       log,
		onUpdate:  onUpdate,
		onDelete:  onDelete,
		guardChan: make(chan struct{}, concurrency),
		wakeup:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.runDelayedDispatcher()
	return q
}

// Close stops the delayed-job dispatcher and waits for in-flight jobs to
// finish dispatching (not executing: update jobs are fire-and-forget and
// are not awaited).
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.closing)
	q.wg.Wait()
}

func (q *Queue) EnqueueUpdatePackage(ctx context.Context, name string, force bool) error {
	jobID := uuid.New().String()

	q.guardChan <- struct{}{}
	go func() {
		defer func() { <-q.guardChan }()

		if err := q.onUpdate(context.Background(), name, force); err != nil {
			q.log.WithFields(logrus.Fields{"job": jobID, "package": name}).WithError(err).Warn("update job failed")
		}
	}()

	return nil
}

func (q *Queue) EnqueueDeletePaths(ctx context.Context, paths []string, after time.Duration) error {
	if after <= 0 {
		q.guardChan <- struct{}{}
		go func() {
			defer func() { <-q.guardChan }()
			if err := q.onDelete(context.Background(), paths); err != nil {
				q.log.WithError(err).Warn("delete job failed")
			}
		}()
		return nil
	}

	q.mu.Lock()
	heap.Push(&q.timers, &delayedJob{fireAt: time.Now().Add(after), paths: paths})
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}

	return nil
}

// runDelayedDispatcher wakes whenever the earliest timer fires or a new
// delayed job is enqueued, pushing due jobs onto the same guarded worker
// pool update jobs use.
func (q *Queue) runDelayedDispatcher() {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		var wait time.Duration = time.Hour
		if q.timers.Len() > 0 {
			wait = time.Until(q.timers[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.closing:
			return
		case <-q.wakeup:
			continue
		case <-timer.C:
			q.fireDue()
		}
	}
}

func (q *Queue) fireDue() {
	now := time.Now()

	q.mu.Lock()
	var due []*delayedJob
	for q.timers.Len() > 0 && !q.timers[0].fireAt.After(now) {
		due = append(due, heap.Pop(&q.timers).(*delayedJob))
	}
	q.mu.Unlock()

	for _, job := range due {
		job := job
		q.guardChan <- struct{}{}
		go func() {
			defer func() { <-q.guardChan }()
			if err := q.onDelete(context.Background(), job.paths); err != nil {
				q.log.WithError(err).Warn("delete job failed")
			}
		}()
	}
}

var _ queue.Queue = (*Queue)(nil)
