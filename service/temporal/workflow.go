package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncWalletWorkflow syncs one wallet's swap history. It is triggered by a
// per-wallet Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Sync the wallet (SyncWallet activity, retried on failure)
// 2. Publish the sync summary to NATS (PublishSyncResult activity, best effort)
func SyncWalletWorkflow(ctx workflow.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncWalletWorkflow started", "address", input.Address)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	syncCtx := workflow.WithActivityOptions(ctx, activityOptions)

	var result *SyncWalletResult
	if err := workflow.ExecuteActivity(syncCtx, a.SyncWallet, input).Get(syncCtx, &result); err != nil {
		logger.Error("wallet sync failed", "address", input.Address, "error", err)
		return nil, fmt.Errorf("failed to sync wallet: %w", err)
	}

	logger.Info("wallet synced",
		"address", input.Address,
		"parsed", result.Parsed,
		"saved", result.Saved,
		"duplicates", result.Duplicates,
		"incremental", result.Incremental,
	)

	// The summary is advisory; a publish failure must not fail the workflow
	// or trigger a re-sync, so it gets one attempt and errors are logged.
	publishOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	publishCtx := workflow.WithActivityOptions(ctx, publishOptions)
	if err := workflow.ExecuteActivity(publishCtx, a.PublishSyncResult, PublishSyncResultInput{Result: *result}).Get(publishCtx, nil); err != nil {
		logger.Warn("failed to publish sync result",
			"address", input.Address,
			"error", err,
		)
	}

	logger.Info("SyncWalletWorkflow completed", "address", input.Address)
	return result, nil
}
