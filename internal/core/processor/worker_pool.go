package processor

import (
	"context"
	"errors"
	"image"
	"runtime"
	"sync"
	"time"

	"faceverify/internal/core/session"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrFrameDropped is returned when the session already has a frame in flight.
	ErrFrameDropped = errors.New("frame dropped: session busy")
	// ErrQueueFull is returned when no worker can accept the frame right now.
	ErrQueueFull = errors.New("frame dropped: queue full")
	// ErrPoolClosed is returned after Shutdown.
	ErrPoolClosed = errors.New("worker pool shut down")
)

// WorkerPool runs session frames on a fixed set of goroutines. Each session
// has at most one frame in flight; further frames are dropped, not queued.
type WorkerPool struct {
	jobs        chan *FrameJob
	workerCount int

	activeJobs      int
	activeJobsMutex sync.Mutex

	inFlightMutex sync.Mutex
	inFlight      map[string]struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// FrameJob is one frame queued for a session.
type FrameJob struct {
	session   *session.Session
	faces     []image.Rectangle
	frame     image.Image
	frameSize image.Point
	resultCh  chan session.FrameOutcome
}

// NewWorkerPool creates a pool. A workerCount below 1 uses 75% of the CPUs, at least 2.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = max(2, (runtime.NumCPU()*3)/4)
	}

	log.Infof("Initializing frame worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		jobs:        make(chan *FrameJob, workerCount*2),
		workerCount: workerCount,
		inFlight:    make(map[string]struct{}),
		shutdown:    make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		go func(workerID int) {
			log.Debugf("Worker %d started", workerID)
			for {
				select {
				case job := <-p.jobs:
					if p.closed() {
						// der Aufrufer hat bereits ErrPoolClosed erhalten
						p.release(job.session.ID())
						return
					}
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) run(workerID int, job *FrameJob) {
	p.activeJobsMutex.Lock()
	p.activeJobs++
	p.activeJobsMutex.Unlock()

	start := time.Now()
	outcome := job.session.ProcessFrame(job.faces, job.frame, job.frameSize)

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.activeJobsMutex.Unlock()

	p.release(job.session.ID())

	// buffered, never blocks even if the caller gave up
	job.resultCh <- outcome

	log.WithFields(log.Fields{
		"worker":  workerID,
		"session": job.session.ID(),
		"code":    outcome.Code,
		"elapsed": time.Since(start),
	}).Debug("Frame processed")
}

// ProcessFrame dispatches a frame and waits for its outcome. It returns
// ErrFrameDropped if the session is busy, ErrQueueFull if no worker slot is
// free, the context error if ctx ends first, or ErrPoolClosed once Shutdown
// was called before the outcome arrived.
func (p *WorkerPool) ProcessFrame(ctx context.Context, s *session.Session, faces []image.Rectangle,
	frame image.Image, frameSize image.Point) (session.FrameOutcome, error) {

	if p.closed() {
		return session.FrameOutcome{}, ErrPoolClosed
	}

	if !p.acquire(s.ID()) {
		return session.FrameOutcome{}, ErrFrameDropped
	}

	job := &FrameJob{
		session:   s,
		faces:     faces,
		frame:     frame,
		frameSize: frameSize,
		resultCh:  make(chan session.FrameOutcome, 1),
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		p.release(s.ID())
		return session.FrameOutcome{}, ctx.Err()
	default:
		p.release(s.ID())
		return session.FrameOutcome{}, ErrQueueFull
	}

	select {
	case outcome := <-job.resultCh:
		return outcome, nil
	case <-ctx.Done():
		return session.FrameOutcome{}, ctx.Err()
	case <-p.shutdown:
		select {
		case outcome := <-job.resultCh:
			return outcome, nil
		default:
		}
		p.release(s.ID())
		return session.FrameOutcome{}, ErrPoolClosed
	}
}

func (p *WorkerPool) closed() bool {
	select {
	case <-p.shutdown:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) acquire(id string) bool {
	p.inFlightMutex.Lock()
	defer p.inFlightMutex.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *WorkerPool) release(id string) {
	p.inFlightMutex.Lock()
	delete(p.inFlight, id)
	p.inFlightMutex.Unlock()
}

// ActiveJobCount returns the number of frames currently being processed.
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount returns the number of workers.
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity returns the capacity of the job queue.
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown stops the workers. Callers still waiting get ErrPoolClosed; queued
// frames are not processed.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
