package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nerfmark/internal/cli"
	"nerfmark/internal/config"
	"nerfmark/internal/logging"
	"nerfmark/internal/pipeline"
	"nerfmark/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	log, closer, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		return 2
	}
	defer closer.Close()

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Error("open job database", "path", cfg.Paths.DatabasePath, "error", err)
		return 1
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, cfg)
	defer pipe.Stop()

	err = cli.NewRootCmd(cfg, log, store, pipe).ExecuteContext(ctx)
	return cli.ExitCode(err)
}
