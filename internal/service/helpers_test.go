package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/mocks"
	"github.com/postpilot/postpilot-go/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// schedulerFixture wires a manager and recovery service over a mock store
// with a fixed clock. The common base for service tests.
type schedulerFixture struct {
	store    *mocks.MockJobStore
	cache    *JobCache
	sync     *StoreSync
	manager  *JobManager
	recovery *RecoveryService
	clock    *data.FixedTimeProvider
}

func newSchedulerFixture(t *testing.T, ctrl *gomock.Controller) *schedulerFixture {
	t.Helper()

	store := mocks.NewMockJobStore(ctrl)
	cache := NewJobCache()
	storeSync, err := NewStoreSync(store, cache, testLogger())
	require.NoError(t, err)

	clock := data.NewFixedTimeProvider(testutil.TestTime())

	manager, err := NewJobManager(JobManagerOptions{
		Cache:             cache,
		Sync:              storeSync,
		TimeProvider:      clock,
		Logger:            testLogger(),
		DefaultMaxRetries: 3,
	})
	require.NoError(t, err)

	recovery, err := NewRecoveryService(RecoveryServiceOptions{
		Cache:        cache,
		Sync:         storeSync,
		TimeProvider: clock,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	return &schedulerFixture{
		store:    store,
		cache:    cache,
		sync:     storeSync,
		manager:  manager,
		recovery: recovery,
		clock:    clock,
	}
}

// allowSaves accepts any number of successful snapshot saves.
func (f *schedulerFixture) allowSaves() {
	f.store.EXPECT().SaveAll(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// allowReloads serves an empty storage snapshot for any number of loads.
func (f *schedulerFixture) allowReloads() {
	f.store.EXPECT().LoadAll(gomock.Any()).Return(map[string]*model.Job{}, nil).AnyTimes()
}

// newExecutor builds an ExecutorService over the fixture with a config
// tuned for tests: no post-processing delay, everything else default.
func (f *schedulerFixture) newExecutor(t *testing.T, posters core.PosterFactory, lease *core.ExecutorLease, publisher core.EventPublisher) *ExecutorService {
	t.Helper()

	cfg := core.DefaultExecutorConfig()
	cfg.PostProcessingDelay = 0

	exec, err := NewExecutorService(ExecutorServiceOptions{
		Cache:        f.cache,
		Sync:         f.sync,
		Manager:      f.manager,
		Recovery:     f.recovery,
		Posters:      posters,
		Lease:        lease,
		Publisher:    publisher,
		TimeProvider: f.clock,
		Logger:       testLogger(),
		Config:       cfg,
	})
	require.NoError(t, err)
	return exec
}

// singlePosterFactory returns a factory that serves the given poster for
// every platform.
func singlePosterFactory(ctrl *gomock.Controller, poster core.Poster) *mocks.MockPosterFactory {
	factory := mocks.NewMockPosterFactory(ctrl)
	factory.EXPECT().PosterFor(gomock.Any()).Return(poster, nil).AnyTimes()
	return factory
}
