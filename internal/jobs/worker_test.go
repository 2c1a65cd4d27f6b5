package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbrag/internal/storage"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSnapshotMirror is a mock implementation of SnapshotMirror
type MockSnapshotMirror struct {
	mock.Mock
}

func (m *MockSnapshotMirror) Sync(ctx context.Context, source storage.ArtifactSource) (*storage.Manifest, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Manifest), args.Error(1)
}

type fakeSource struct {
	generation atomic.Uint64
}

func (f *fakeSource) Generation() uint64 { return f.generation.Load() }

func (f *fakeSource) Artifacts() (*vectorstore.Artifacts, error) {
	return &vectorstore.Artifacts{Generation: f.generation.Load()}, nil
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	cancel()
	wg.Wait()

	// the shutdown pass runs even though the ticker never fired
	mockProcessor.AssertNumberOfCalls(t, "ProcessJobs", 1)
}

func TestWorker_KeepsRunningAfterError(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("bucket unavailable"))

	worker := NewWorker(mockProcessor, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start(ctx)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, len(mockProcessor.Calls), 3)
}

func TestMirrorSyncProcessor_UploadsOncePerGeneration(t *testing.T) {
	source := &fakeSource{}
	source.generation.Store(1)
	mirror := new(MockSnapshotMirror)
	mirror.On("Sync", mock.Anything, source).Return(&storage.Manifest{Generation: 1}, nil).Once()
	mirror.On("Sync", mock.Anything, source).Return(&storage.Manifest{Generation: 2}, nil).Once()

	processor := NewMirrorSyncProcessor(source, mirror, nil)
	ctx := context.Background()

	require.NoError(t, processor.ProcessJobs(ctx))
	require.NoError(t, processor.ProcessJobs(ctx))

	source.generation.Store(2)
	require.NoError(t, processor.ProcessJobs(ctx))
	require.NoError(t, processor.ProcessJobs(ctx))

	mirror.AssertExpectations(t)
	mirror.AssertNumberOfCalls(t, "Sync", 2)
}

func TestMirrorSyncProcessor_RetriesAfterFailure(t *testing.T) {
	source := &fakeSource{}
	mirror := new(MockSnapshotMirror)
	mirror.On("Sync", mock.Anything, source).Return(nil, errors.New("timeout")).Once()
	mirror.On("Sync", mock.Anything, source).Return(&storage.Manifest{}, nil).Once()

	processor := NewMirrorSyncProcessor(source, mirror, nil)
	ctx := context.Background()

	assert.Error(t, processor.ProcessJobs(ctx))
	assert.NoError(t, processor.ProcessJobs(ctx))
	assert.NoError(t, processor.ProcessJobs(ctx))

	mirror.AssertNumberOfCalls(t, "Sync", 2)
}

func TestMirrorSyncProcessor_TracksUploadedGeneration(t *testing.T) {
	source := &fakeSource{}
	source.generation.Store(3)
	mirror := new(MockSnapshotMirror)
	// a write landed between the generation check and the copy
	mirror.On("Sync", mock.Anything, source).Return(&storage.Manifest{Generation: 4}, nil).Once()

	processor := NewMirrorSyncProcessor(source, mirror, nil)
	require.NoError(t, processor.ProcessJobs(context.Background()))

	source.generation.Store(4)
	require.NoError(t, processor.ProcessJobs(context.Background()))

	mirror.AssertNumberOfCalls(t, "Sync", 1)
}
