package main

import (
	"context"
	"io"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fixlimit/internal/build"
	"github.com/ternarybob/fixlimit/internal/common"
	"github.com/ternarybob/fixlimit/internal/interfaces"
	badgerstore "github.com/ternarybob/fixlimit/internal/storage/badger"
)

// runBuild wires runner, patcher and controller from config and runs the loop
func runBuild(ctx context.Context, config *common.Config, logger arbor.ILogger, out io.Writer) (build.Summary, error) {
	inv, err := build.NewInvocation(config.Build.Command)
	if err != nil {
		return build.Summary{State: build.StateFatalError}, usageError{err: err}
	}
	inv.Dir = config.Build.Dir

	policy, err := build.ParseMissingPolicy(config.Build.OnMissing)
	if err != nil {
		return build.Summary{State: build.StateFatalError}, usageError{err: err}
	}

	opts := []build.Option{build.WithMaxAttempts(config.Build.MaxAttempts)}

	if config.History.Enabled {
		if history := openHistory(config, logger); history != nil {
			defer history.Close()
			opts = append(opts, build.WithHistory(history))
		}
	}

	controller := build.NewController(
		build.NewExecRunner(logger),
		build.NewPatcher(config.Build.Target, config.Build.Dir, policy, logger),
		build.NewReporter(out),
		logger,
		opts...,
	)

	return controller.Run(ctx, inv)
}

// openHistory opens the patch history store. History is auxiliary, so a store
// that cannot be opened is reported and skipped.
func openHistory(config *common.Config, logger arbor.ILogger) interfaces.PatchHistoryStorage {
	db, err := badgerstore.NewBadgerDB(logger, &config.History)
	if err != nil {
		logger.Warn().Err(err).Str("path", config.History.Path).Msg("Patch history disabled - failed to open store")
		return nil
	}
	return badgerstore.NewPatchStorage(db, logger)
}
