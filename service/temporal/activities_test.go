package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	natspkg "github.com/brojonat/cahoots/service/nats"
	syncsvc "github.com/brojonat/cahoots/service/sync"
)

// Mock wallet syncer
type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) SyncWallet(ctx context.Context, address string, opts syncsvc.Options) (*syncsvc.Result, error) {
	args := m.Called(ctx, address, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncsvc.Result), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActivities_SyncWallet(t *testing.T) {
	testWallet := "TestWa11et11111111111111111111111111111"

	t.Run("successful sync", func(t *testing.T) {
		syncer := &MockSyncer{}
		syncer.On("SyncWallet", mock.Anything, testWallet, mock.Anything).
			Return(&syncsvc.Result{
				Address:         testWallet,
				Parsed:          3,
				Saved:           2,
				Duplicates:      1,
				NewestSignature: "sig1",
				Incremental:     true,
			}, nil)

		activities := NewActivities(syncer, nil, nil, testLogger())
		result, err := activities.SyncWallet(context.Background(), SyncWalletInput{
			Address:    testWallet,
			SmartFetch: true,
		})
		require.NoError(t, err)

		assert.Equal(t, testWallet, result.Address)
		assert.Equal(t, 3, result.Parsed)
		assert.Equal(t, 2, result.Saved)
		assert.Equal(t, 1, result.Duplicates)
		assert.Equal(t, "sig1", result.NewestSignature)
		assert.True(t, result.Incremental)
		syncer.AssertExpectations(t)
	})

	t.Run("options are forwarded", func(t *testing.T) {
		syncer := &MockSyncer{}
		syncer.On("SyncWallet", mock.Anything, testWallet, syncsvc.Options{
			TargetTxCount: 500,
			SmartFetch:    true,
		}).Return(&syncsvc.Result{Address: testWallet}, nil)

		activities := NewActivities(syncer, nil, nil, testLogger())
		_, err := activities.SyncWallet(context.Background(), SyncWalletInput{
			Address:       testWallet,
			TargetTxCount: 500,
			SmartFetch:    true,
		})
		require.NoError(t, err)
		syncer.AssertExpectations(t)
	})

	t.Run("sync error propagates", func(t *testing.T) {
		syncer := &MockSyncer{}
		syncer.On("SyncWallet", mock.Anything, testWallet, mock.Anything).
			Return(nil, errors.New("rpc down"))

		activities := NewActivities(syncer, nil, nil, testLogger())
		_, err := activities.SyncWallet(context.Background(), SyncWalletInput{Address: testWallet})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rpc down")
	})
}

func TestActivities_PublishSyncResult(t *testing.T) {
	testWallet := "TestWa11et11111111111111111111111111111"
	input := PublishSyncResultInput{Result: SyncWalletResult{
		Address:     testWallet,
		Parsed:      5,
		Saved:       4,
		Duplicates:  1,
		Incremental: true,
	}}

	t.Run("publishes summary", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		activities := NewActivities(&MockSyncer{}, pub, nil, testLogger())

		require.NoError(t, activities.PublishSyncResult(context.Background(), input))

		syncs := pub.GetPublishedSyncs()
		require.Len(t, syncs, 1)
		assert.Equal(t, testWallet, syncs[0].WalletAddress)
		assert.Equal(t, 4, syncs[0].Saved)
		assert.True(t, syncs[0].Incremental)
		assert.False(t, syncs[0].PublishedAt.IsZero())
	})

	t.Run("nil publisher is a no-op", func(t *testing.T) {
		activities := NewActivities(&MockSyncer{}, nil, nil, testLogger())
		require.NoError(t, activities.PublishSyncResult(context.Background(), input))
	})

	t.Run("publish error propagates", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		pub.SetPublishSyncError(errors.New("nats down"))
		activities := NewActivities(&MockSyncer{}, pub, nil, testLogger())

		err := activities.PublishSyncResult(context.Background(), input)
		require.Error(t, err)
	})
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.CreateWalletSchedule(ctx, "walletA", 0))
	assert.True(t, s.ScheduleExists("walletA"))
	assert.Equal(t, 1, s.ScheduleCount())

	ids, err := s.ListWalletSchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sync-wallet-walletA"}, ids)

	require.NoError(t, s.DeleteWalletSchedule(ctx, "walletA"))
	assert.False(t, s.ScheduleExists("walletA"))
	require.Error(t, s.DeleteWalletSchedule(ctx, "walletA"))
}
