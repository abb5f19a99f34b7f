package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Checker-Finance/credpool/pkg/config"
	"github.com/Checker-Finance/credpool/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
