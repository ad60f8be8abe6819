package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowTestEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first (before mocking)
	activities := &Activities{}
	env.RegisterActivity(activities.SyncWallet)
	env.RegisterActivity(activities.PublishSyncResult)
	return env, activities
}

func TestSyncWalletWorkflow(t *testing.T) {
	testWallet := "TestWa11et11111111111111111111111111111"

	t.Run("successful sync publishes result", func(t *testing.T) {
		env, activities := newWorkflowTestEnv(t)

		syncResult := &SyncWalletResult{
			Address:         testWallet,
			Parsed:          5,
			Saved:           4,
			Duplicates:      1,
			NewestSignature: "sig1",
			Incremental:     true,
		}
		env.OnActivity(activities.SyncWallet, mock.Anything, mock.Anything).Return(syncResult, nil)
		env.OnActivity(activities.PublishSyncResult, mock.Anything, PublishSyncResultInput{Result: *syncResult}).Return(nil)

		env.ExecuteWorkflow(SyncWalletWorkflow, SyncWalletInput{Address: testWallet, SmartFetch: true})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result *SyncWalletResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, testWallet, result.Address)
		assert.Equal(t, 4, result.Saved)
		assert.True(t, result.Incremental)
		env.AssertExpectations(t)
	})

	t.Run("publish failure does not fail the workflow", func(t *testing.T) {
		env, activities := newWorkflowTestEnv(t)

		syncResult := &SyncWalletResult{Address: testWallet, Parsed: 1, Saved: 1}
		env.OnActivity(activities.SyncWallet, mock.Anything, mock.Anything).Return(syncResult, nil)
		env.OnActivity(activities.PublishSyncResult, mock.Anything, mock.Anything).Return(errors.New("nats down"))

		env.ExecuteWorkflow(SyncWalletWorkflow, SyncWalletInput{Address: testWallet})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		env.AssertExpectations(t)
	})

	t.Run("sync failure fails the workflow", func(t *testing.T) {
		env, activities := newWorkflowTestEnv(t)

		env.OnActivity(activities.SyncWallet, mock.Anything, mock.Anything).Return(nil, errors.New("rpc down"))

		env.ExecuteWorkflow(SyncWalletWorkflow, SyncWalletInput{Address: testWallet})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to sync wallet")
	})
}
