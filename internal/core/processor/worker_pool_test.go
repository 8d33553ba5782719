package processor

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"faceverify/internal/core/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayFrame() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Pix[y*img.Stride+x] = uint8((x*7 + y*13) % 251)
		}
	}
	return img
}

// blockingCanonicalizer holds every call until release is closed.
type blockingCanonicalizer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCanonicalizer) Canonicalize(frame image.Image, _ image.Rectangle) (*image.Gray, error) {
	b.entered <- struct{}{}
	<-b.release
	return frame.(*image.Gray), nil
}

var passthrough = session.CanonicalizerFunc(func(frame image.Image, _ image.Rectangle) (*image.Gray, error) {
	return frame.(*image.Gray), nil
})

func TestWorkerPoolProcessesFrames(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	s, err := session.New("cam", session.DefaultConfig(), passthrough)
	require.NoError(t, err)
	frame := grayFrame()
	require.NoError(t, s.SetReference(frame))

	out, err := pool.ProcessFrame(context.Background(), s, []image.Rectangle{frame.Bounds()}, frame, image.Point{})
	require.NoError(t, err)
	assert.Equal(t, "cam", out.SessionID)
	assert.Equal(t, 1, out.ContinuousPasses)
	assert.Equal(t, 0, pool.ActiveJobCount())
}

func TestWorkerPoolDropsFramesForBusySession(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	blocker := &blockingCanonicalizer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, err := session.New("busy", session.DefaultConfig(), blocker)
	require.NoError(t, err)
	frame := grayFrame()
	require.NoError(t, s.SetReference(frame))
	faces := []image.Rectangle{frame.Bounds()}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := pool.ProcessFrame(context.Background(), s, faces, frame, image.Point{})
		assert.NoError(t, err)
	}()

	select {
	case <-blocker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never reached the canonicalizer")
	}
	assert.Equal(t, 1, pool.ActiveJobCount())

	_, err = pool.ProcessFrame(context.Background(), s, faces, frame, image.Point{})
	assert.ErrorIs(t, err, ErrFrameDropped)

	close(blocker.release)
	wg.Wait()

	// the session is free again
	blocker.entered = make(chan struct{}, 1)
	out, err := pool.ProcessFrame(context.Background(), s, faces, frame, image.Point{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.ContinuousPasses)
}

func TestWorkerPoolHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	blocker := &blockingCanonicalizer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(blocker.release)

	s, err := session.New("slow", session.DefaultConfig(), blocker)
	require.NoError(t, err)
	frame := grayFrame()
	require.NoError(t, s.SetReference(frame))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pool.ProcessFrame(ctx, s, []image.Rectangle{frame.Bounds()}, frame, image.Point{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool := NewWorkerPool(0)
	assert.GreaterOrEqual(t, pool.GetWorkerCount(), 2)
	assert.Equal(t, pool.GetWorkerCount()*2, pool.GetQueueCapacity())

	pool.Shutdown()
	pool.Shutdown()

	s, err := session.New("late", session.DefaultConfig(), passthrough)
	require.NoError(t, err)
	_, err = pool.ProcessFrame(context.Background(), s, nil, nil, image.Point{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolShutdownReleasesQueuedFrames(t *testing.T) {
	pool := NewWorkerPool(1)

	blocker := &blockingCanonicalizer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(blocker.release)

	frame := grayFrame()
	faces := []image.Rectangle{frame.Bounds()}
	newSession := func(id string) *session.Session {
		s, err := session.New(id, session.DefaultConfig(), blocker)
		require.NoError(t, err)
		require.NoError(t, s.SetReference(frame))
		return s
	}
	running, queued := newSession("running"), newSession("queued")

	errs := make(chan error, 2)
	go func() {
		_, err := pool.ProcessFrame(context.Background(), running, faces, frame, image.Point{})
		errs <- err
	}()
	select {
	case <-blocker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never reached the canonicalizer")
	}

	go func() {
		_, err := pool.ProcessFrame(context.Background(), queued, faces, frame, image.Point{})
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(pool.jobs) == 1 }, 2*time.Second, 5*time.Millisecond)

	pool.Shutdown()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrPoolClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("caller still blocked after Shutdown")
		}
	}

	pool.inFlightMutex.Lock()
	_, busy := pool.inFlight["queued"]
	pool.inFlightMutex.Unlock()
	assert.False(t, busy)
}
