package main

import (
	"context"
	"os/signal"
	"syscall"

	cmd "github.com/osint-platform/crawler-core/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
