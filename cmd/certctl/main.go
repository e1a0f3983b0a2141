package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/certified-builder/api/internal/app"
	"github.com/certified-builder/api/internal/cli"
	"github.com/certified-builder/api/internal/platform/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(cli.ExitFailure)
	}
	logger = logger.Named("certctl")

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	root := cli.NewRootCommand(loader(logger))
	err = root.ExecuteContext(observability.WithLogger(context.Background(), logger))
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

func loader(logger *zap.Logger) cli.Loader {
	return func(ctx context.Context) (*cli.Runtime, func(), error) {
		rt, err := app.Bootstrap(ctx, logger, time.Now().UTC())
		release := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rt.Close(closeCtx)
		}
		if err != nil {
			release()
			return nil, nil, err
		}
		return &cli.Runtime{
			Intake:       rt.Services.Intake,
			Certificates: rt.Services.Certificates,
			Products:     rt.Services.Products,
			Consumer: func() (cli.Consumer, error) {
				subscriber, err := rt.CompletionSubscriber()
				if err != nil {
					return nil, err
				}
				return subscriber, nil
			},
		}, release, nil
	}
}
